// Package coordinator sequences task mutations: a change is persisted
// first and announced only after the store confirms it. Listeners can
// therefore trust every event they see to be durable, and for any single
// task the announcements arrive in the order the store applied them.
package coordinator

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/ShehabShan/TaskGuru-server/internal/events"
	"github.com/ShehabShan/TaskGuru-server/internal/store"
)

// Gateway is the slice of the store the coordinator drives.
// *store.Store satisfies it.
type Gateway interface {
	CreateTask(ctx context.Context, t *store.Task) (*store.Task, error)
	UpdateTask(ctx context.Context, id string, patch *store.Task) (*store.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// stripeCount bounds lock memory while keeping collisions between hot
// tasks unlikely. Mutations on distinct tasks proceed concurrently;
// only same-task mutations serialize.
const stripeCount = 64

// Coordinator funnels every task mutation through persist-then-announce.
type Coordinator struct {
	gw      Gateway
	emitter events.Broadcaster
	logger  *slog.Logger
	stripes [stripeCount]sync.Mutex
}

func New(gw Gateway, emitter events.Broadcaster, logger *slog.Logger) *Coordinator {
	return &Coordinator{gw: gw, emitter: emitter, logger: logger}
}

func (c *Coordinator) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &c.stripes[h.Sum32()%stripeCount]
}

// SubmitCreate persists a new task and announces it. The task has no
// identifier until the store assigns one, so creates take no stripe; the
// announcement still cannot precede the persist because it is only sent
// after the store returns.
func (c *Coordinator) SubmitCreate(ctx context.Context, t *store.Task) (*store.Task, error) {
	created, err := c.gw.CreateTask(ctx, t)
	if err != nil {
		return nil, err
	}
	c.emit(events.Added(created))
	return created, nil
}

// SubmitUpdate persists a patch against an existing task and announces the
// resulting state. A failed or no-op persist announces nothing.
func (c *Coordinator) SubmitUpdate(ctx context.Context, id string, patch *store.Task) (*store.Task, error) {
	mu := c.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	updated, err := c.gw.UpdateTask(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	c.emit(events.Updated(updated))
	return updated, nil
}

// SubmitDelete removes a task and announces the removal. Deleting a task
// that is already gone reports store.ErrNotFound and announces nothing,
// so repeated deletes yield exactly one event.
func (c *Coordinator) SubmitDelete(ctx context.Context, id string) error {
	mu := c.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	if err := c.gw.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.emit(events.Deleted(id))
	return nil
}

// emit announces a confirmed change. For updates and deletes the caller
// still holds the task's stripe, which pins the announcement order for
// that task to the order the store confirmed the writes.
func (c *Coordinator) emit(e events.ChangeEvent) {
	if c.emitter != nil {
		c.emitter.Broadcast(e)
	}
	c.logger.Debug("coordinator: change committed", "type", string(e.Type), "task", e.EntityID())
}
