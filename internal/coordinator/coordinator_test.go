package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ShehabShan/TaskGuru-server/internal/events"
	"github.com/ShehabShan/TaskGuru-server/internal/store"
)

// fakeGateway is an in-memory Gateway with hooks for failure and latency.
type fakeGateway struct {
	mu        sync.Mutex
	tasks     map[string]*store.Task
	nextID    int
	createErr error
	updateErr error
	onUpdate  func(id string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{tasks: make(map[string]*store.Task)}
}

func (g *fakeGateway) CreateTask(ctx context.Context, t *store.Task) (*store.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	created := &store.Task{ID: fmt.Sprintf("task-%d", g.nextID), Owner: t.Owner, Fields: t.Fields}
	g.tasks[created.ID] = created
	return created, nil
}

func (g *fakeGateway) UpdateTask(ctx context.Context, id string, patch *store.Task) (*store.Task, error) {
	if g.onUpdate != nil {
		g.onUpdate(id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	cur, ok := g.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Owner != "" {
		cur.Owner = patch.Owner
	}
	cur.Fields = patch.Fields
	cur.UpdatedAt = time.Now()
	return cur, nil
}

func (g *fakeGateway) DeleteTask(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(g.tasks, id)
	return nil
}

func (g *fakeGateway) put(t *store.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks[t.ID] = t
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.ChangeEvent
}

func (c *captureEmitter) Broadcast(e events.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureEmitter) snapshot() []events.ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.ChangeEvent(nil), c.events...)
}

func newTestCoordinator(gw Gateway) (*Coordinator, *captureEmitter) {
	emitter := &captureEmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(gw, emitter, logger), emitter
}

func TestCreateAnnouncesAfterPersist(t *testing.T) {
	gw := newFakeGateway()
	coord, emitter := newTestCoordinator(gw)

	created, err := coord.SubmitCreate(context.Background(), &store.Task{Owner: "pat@example.com"})
	if err != nil {
		t.Fatalf("SubmitCreate: %v", err)
	}

	got := emitter.snapshot()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Type != events.TaskAdded {
		t.Fatalf("type = %q, want %q", got[0].Type, events.TaskAdded)
	}
	if got[0].Task == nil || got[0].Task.ID != created.ID {
		t.Fatalf("event task = %+v, want id %q", got[0].Task, created.ID)
	}
}

func TestFailedCreateAnnouncesNothing(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr = store.ErrUnavailable
	coord, emitter := newTestCoordinator(gw)

	_, err := coord.SubmitCreate(context.Background(), &store.Task{Owner: "pat@example.com"})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if got := emitter.snapshot(); len(got) != 0 {
		t.Fatalf("got %d events after failed persist, want 0", len(got))
	}
}

func TestUpdateMissingTaskAnnouncesNothing(t *testing.T) {
	coord, emitter := newTestCoordinator(newFakeGateway())

	_, err := coord.SubmitUpdate(context.Background(), "ghost", &store.Task{Owner: "pat@example.com"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if got := emitter.snapshot(); len(got) != 0 {
		t.Fatalf("got %d events, want 0", len(got))
	}
}

func TestUpdateAnnouncesStoreState(t *testing.T) {
	gw := newFakeGateway()
	gw.put(&store.Task{ID: "t1", Owner: "pat@example.com"})
	coord, emitter := newTestCoordinator(gw)

	updated, err := coord.SubmitUpdate(context.Background(), "t1",
		&store.Task{Fields: map[string]any{"title": "ship it"}})
	if err != nil {
		t.Fatalf("SubmitUpdate: %v", err)
	}
	if updated.UpdatedAt.IsZero() {
		t.Fatal("updated task has no UpdatedAt")
	}

	got := emitter.snapshot()
	if len(got) != 1 || got[0].Type != events.TaskUpdated {
		t.Fatalf("events = %+v, want one taskUpdated", got)
	}
	// The announcement carries the state the store confirmed, not the
	// caller's patch.
	if got[0].Task != updated {
		t.Fatal("event does not carry the persisted task")
	}
}

func TestRepeatedDeleteAnnouncesOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.put(&store.Task{ID: "t1", Owner: "pat@example.com"})
	coord, emitter := newTestCoordinator(gw)

	if err := coord.SubmitDelete(context.Background(), "t1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := coord.SubmitDelete(context.Background(), "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}

	got := emitter.snapshot()
	if len(got) != 1 {
		t.Fatalf("got %d events, want exactly 1", len(got))
	}
	if got[0].Type != events.TaskDeleted || got[0].TaskID != "t1" {
		t.Fatalf("event = %+v, want taskDeleted for t1", got[0])
	}
}

// A slow update and a racing delete on the same task must be announced in
// the order the store applied them, even though the delete was submitted
// while the update was still persisting.
func TestSameTaskAnnouncementsFollowStoreOrder(t *testing.T) {
	gw := newFakeGateway()
	gw.put(&store.Task{ID: "t1", Owner: "pat@example.com"})

	updateEntered := make(chan struct{})
	gw.onUpdate = func(string) {
		close(updateEntered)
		time.Sleep(50 * time.Millisecond)
	}
	coord, emitter := newTestCoordinator(gw)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := coord.SubmitUpdate(context.Background(), "t1",
			&store.Task{Fields: map[string]any{"title": "late"}}); err != nil {
			t.Errorf("SubmitUpdate: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-updateEntered
		if err := coord.SubmitDelete(context.Background(), "t1"); err != nil {
			t.Errorf("SubmitDelete: %v", err)
		}
	}()
	wg.Wait()

	got := emitter.snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Type != events.TaskUpdated || got[1].Type != events.TaskDeleted {
		t.Fatalf("order = [%s, %s], want [taskUpdated, taskDeleted]", got[0].Type, got[1].Type)
	}
}

// Mutations on unrelated tasks must not wait on each other.
func TestDistinctTasksDoNotSerialize(t *testing.T) {
	gw := newFakeGateway()
	gw.put(&store.Task{ID: "a", Owner: "pat@example.com"})
	gw.put(&store.Task{ID: "b", Owner: "pat@example.com"})

	updateEntered := make(chan struct{})
	release := make(chan struct{})
	gw.onUpdate = func(id string) {
		if id == "a" {
			close(updateEntered)
			<-release
		}
	}
	coord, _ := newTestCoordinator(gw)

	go coord.SubmitUpdate(context.Background(), "a", &store.Task{Fields: map[string]any{"k": "v"}})
	<-updateEntered

	done := make(chan error, 1)
	go func() { done <- coord.SubmitDelete(context.Background(), "b") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SubmitDelete: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delete of b blocked behind in-flight update of a")
	}
	close(release)
}
