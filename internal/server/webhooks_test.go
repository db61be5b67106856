package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"summit/internal/app"
	"summit/internal/config"
	"summit/internal/engine"
)

type webhookRecorder struct {
	mu     sync.Mutex
	fail   bool
	events []webhookEvent
	types  []string
}

func (r *webhookRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.fail {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		var evt webhookEvent
		if err := json.NewDecoder(req.Body).Decode(&evt); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.events = append(r.events, evt)
		r.types = append(r.types, req.Header.Get("X-Summit-Event"))
		w.WriteHeader(http.StatusOK)
	}
}

func (r *webhookRecorder) setFail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

func (r *webhookRecorder) received() []webhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]webhookEvent(nil), r.events...)
}

func TestWebhookDeliversOnlyNewMatchingEvents(t *testing.T) {
	a, err := app.Setup(t.TempDir())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	ctx := context.Background()

	// recorded before the dispatcher starts; must never be delivered
	if _, err := a.Engine.CreateGoal(ctx, engine.CreateGoalInput{Title: "Old goal", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	t.Cleanup(srv.Close)

	d := newWebhookDispatcher(a.Repo, []config.WebhookConfig{
		{URL: srv.URL, Events: []string{"goal.created"}},
	}, a.Log)
	d.dispatchAll() // initializes the cursor at the current log head

	g, err := a.Engine.CreateGoal(ctx, engine.CreateGoalInput{Title: "New goal", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Engine.CreateSubGoal(ctx, engine.CreateSubGoalInput{GoalID: g.ID, Title: "Phase one", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	d.dispatchAll()

	got := rec.received()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d: %+v", len(got), got)
	}
	if got[0].Type != "goal.created" || got[0].EntityID != g.ID {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}
	if rec.types[0] != "goal.created" {
		t.Fatalf("unexpected event header %q", rec.types[0])
	}

	// the subgoal.created event was filtered but must still advance the cursor
	d.dispatchAll()
	if len(rec.received()) != 1 {
		t.Fatal("filtered event should not be redelivered")
	}
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	a, err := app.Setup(t.TempDir())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	ctx := context.Background()

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	t.Cleanup(srv.Close)

	d := newWebhookDispatcher(a.Repo, []config.WebhookConfig{{URL: srv.URL}}, a.Log)
	d.dispatchAll()

	if _, err := a.Engine.CreateGoal(ctx, engine.CreateGoalInput{Title: "Flaky target", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	rec.setFail(true)
	d.dispatchAll()
	if len(rec.received()) != 0 {
		t.Fatal("failed delivery should record nothing")
	}

	rec.setFail(false)
	d.dispatchAll()
	got := rec.received()
	if len(got) == 0 {
		t.Fatal("event should be redelivered after the target recovers")
	}
	if got[0].Type != "goal.created" {
		t.Fatalf("unexpected first redelivered event: %+v", got[0])
	}
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	if !all.match("task.created") {
		t.Fatal("empty filter should match everything")
	}
	blankOnly := newEventFilter([]string{" ", ""})
	if !blankOnly.match("task.created") {
		t.Fatal("blank-only filter should fall back to matching everything")
	}
	some := newEventFilter([]string{"progress.updated", "integrity.repaired"})
	if !some.match("progress.updated") || some.match("task.created") {
		t.Fatal("filter should match only the listed types")
	}
}
