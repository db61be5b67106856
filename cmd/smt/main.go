package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"summit/internal/app"
	"summit/internal/config"
	"summit/internal/db"
	"summit/internal/engine"
	"summit/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "smt",
	Short: "Summit CLI",
	Long: `Summit tracks goals the mandala way: each goal splits into 8 sub-goals,
each sub-goal into 8 actions, and actions carry the day-to-day tasks.
Progress rolls up automatically:
- Tasks score by status (pending 0, in progress 50, completed 100, cancelled 0).
- Actions average their tasks, or score a completion streak for habits.
- Sub-goals and goals average their children.
Derived values are cached and kept consistent by invalidation; 'smt integrity'
detects and repairs stored values that drifted from the computed truth.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SUMMIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(subGoalCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(integrityCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- goals ---

func goalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "goal", Short: "Manage goals"}
	cmd.AddCommand(goalCreateCmd())
	cmd.AddCommand(goalListCmd())
	cmd.AddCommand(goalShowCmd())
	cmd.AddCommand(goalDeleteCmd())
	return cmd
}

func goalCreateCmd() *cobra.Command {
	var title, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				g, err := a.Engine.CreateGoal(ctx, engine.CreateGoalInput{
					Title:       title,
					Description: desc,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func goalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListGoals(ctx)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	return cmd
}

func goalShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <goal-id>",
		Short: "Show a goal tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				g, err := a.Engine.GetGoalTree(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	return cmd
}

func goalDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <goal-id>",
		Short: "Delete a goal and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.DeleteGoal(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

// --- sub-goals ---

func subGoalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sub", Short: "Manage sub-goals"}
	cmd.AddCommand(subGoalCreateCmd())
	cmd.AddCommand(subGoalShowCmd())
	return cmd
}

func subGoalCreateCmd() *cobra.Command {
	var goalID, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create sub-goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				sg, err := a.Engine.CreateSubGoal(ctx, engine.CreateSubGoalInput{
					GoalID:  goalID,
					Title:   title,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(sg)
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "parent goal id")
	cmd.Flags().StringVar(&title, "title", "", "sub-goal title")
	_ = cmd.MarkFlagRequired("goal")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func subGoalShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <sub-goal-id>",
		Short: "Show a sub-goal with its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				sg, err := a.Engine.GetSubGoal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(sg)
			})
		},
	}
	return cmd
}

// --- actions ---

func actionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "action", Short: "Manage actions"}
	cmd.AddCommand(actionCreateCmd())
	cmd.AddCommand(actionShowCmd())
	return cmd
}

func actionCreateCmd() *cobra.Command {
	var subGoalID, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				act, err := a.Engine.CreateAction(ctx, engine.CreateActionInput{
					SubGoalID: subGoalID,
					Title:     title,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(act)
			})
		},
	}
	cmd.Flags().StringVar(&subGoalID, "sub-goal", "", "parent sub-goal id")
	cmd.Flags().StringVar(&title, "title", "", "action title")
	_ = cmd.MarkFlagRequired("sub-goal")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func actionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <action-id>",
		Short: "Show an action with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				act, err := a.Engine.GetAction(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(act)
			})
		},
	}
	return cmd
}

// --- tasks ---

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskStatusCmd())
	cmd.AddCommand(taskDeleteCmd())
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var actionID, title, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.CreateTask(ctx, engine.CreateTaskInput{
					ActionID:    actionID,
					Title:       title,
					Description: desc,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&actionID, "action", "", "parent action id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Update task status (pending, in_progress, completed, cancelled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.UpdateTaskStatus(ctx, engine.UpdateTaskStatusInput{
					TaskID:  args[0],
					Status:  args[1],
					ActorID: viper.GetString("actor-id"),
					Force:   viper.GetBool("force"),
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

// --- progress ---

func progressCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "progress", Short: "Progress queries and recalculation"}
	cmd.AddCommand(progressShowCmd())
	cmd.AddCommand(progressRecalcCmd())
	return cmd
}

func progressShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <goal-id>",
		Short: "Show goal progress with per-sub-goal breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				info, err := a.Progress.GoalProgress(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(info)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"#", "Sub-goal progress"})
				for i, v := range info.SubGoalProgress {
					t.AppendRow(table.Row{i + 1, fmt.Sprintf("%.2f%%", v)})
				}
				t.AppendFooter(table.Row{"Goal", fmt.Sprintf("%.2f%%", info.Progress)})
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func progressRecalcCmd() *cobra.Command {
	var taskID, actionID, subGoalID string
	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recalculate progress from a task, action, or sub-goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				actor := viper.GetString("actor-id")
				switch {
				case taskID != "":
					snap, err := a.Progress.RecalculateFromTask(ctx, taskID, actor)
					if err != nil {
						return err
					}
					return printJSON(snap)
				case actionID != "":
					snap, err := a.Progress.RecalculateFromAction(ctx, actionID, actor)
					if err != nil {
						return err
					}
					return printJSON(snap)
				case subGoalID != "":
					snap, err := a.Progress.RecalculateFromSubGoal(ctx, subGoalID, actor)
					if err != nil {
						return err
					}
					return printJSON(snap)
				default:
					return fmt.Errorf("one of --task, --action, --sub-goal is required")
				}
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&actionID, "action", "", "action id")
	cmd.Flags().StringVar(&subGoalID, "sub-goal", "", "sub-goal id")
	return cmd
}

// --- integrity ---

func integrityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "integrity", Short: "Validate and repair stored progress"}
	cmd.AddCommand(integrityValidateCmd())
	cmd.AddCommand(integrityRepairCmd())
	cmd.AddCommand(integrityBatchCmd())
	return cmd
}

func integrityValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <goal-id>",
		Short: "Validate a goal's structure and stored progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return printJSON(a.Progress.ValidateIntegrity(ctx, args[0]))
			})
		},
	}
	return cmd
}

func integrityRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair <goal-id>",
		Short: "Repair drifted progress values for a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				report, err := a.Engine.RepairGoal(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	return cmd
}

func integrityBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <goal-id>...",
		Short: "Repair several goals, isolating failures",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return printJSON(a.Progress.BatchRepair(ctx, args, viper.GetString("actor-id")))
			})
		},
	}
	return cmd
}

// --- cache ---

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Progress cache"}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return printJSON(a.Progress.CacheStats())
			})
		},
	})
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default summit.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.DefaultYAML()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var goalID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				events, err := a.Repo.LatestEvents(ctx, n, goalID, evtType)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Setup(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Webhooks: a.Config.Webhooks})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Summit API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Setup(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
