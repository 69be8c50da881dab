// Package fanout delivers committed change events to every active realtime
// session. Delivery is best effort: a connection that cannot keep up is cut
// rather than allowed to stall the rest.
package fanout

import (
	"log/slog"

	"github.com/ShehabShan/TaskGuru-server/internal/events"
	"github.com/ShehabShan/TaskGuru-server/internal/registry"
)

// Fanout pushes events to the registry's active sessions.
type Fanout struct {
	reg    *registry.Registry
	logger *slog.Logger
}

var _ events.Broadcaster = (*Fanout)(nil)

func New(reg *registry.Registry, logger *slog.Logger) *Fanout {
	return &Fanout{reg: reg, logger: logger}
}

// Broadcast sends e to every active session, including the one whose
// request caused it. Push is non-blocking, so one stalled connection
// cannot delay the others; a session whose push fails (full outbox or
// dead connection) is removed and closed on the spot.
func (f *Fanout) Broadcast(e events.ChangeEvent) {
	for _, s := range f.reg.Active() {
		if err := s.Push(e); err != nil {
			f.logger.Warn("fanout: dropping session",
				"session", s.ID, "email", s.Email, "err", err)
			f.reg.Remove(s)
			s.Close()
		}
	}
}
