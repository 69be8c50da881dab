// Package notify forwards committed task changes to external HTTP
// endpoints (a generic webhook and/or an ntfy topic). Delivery runs on a
// background worker so a slow endpoint never holds up the mutation path.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ShehabShan/TaskGuru-server/internal/events"
)

// queueSize bounds how many undelivered events may pile up before new
// ones are dropped. Webhooks are a tap on the change feed, not part of
// the delivery contract.
const queueSize = 64

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

// Notifier posts change events to the configured endpoints.
type Notifier struct {
	cfg    Config
	client *http.Client
	queue  chan events.ChangeEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

var _ events.Broadcaster = (*Notifier)(nil)

// New returns a Notifier with the given config. Call Start to begin
// delivering; a disabled Notifier accepts events and discards them.
func New(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		queue:  make(chan events.ChangeEvent, queueSize),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// Broadcast implements events.Broadcaster. It never blocks: when the
// queue is full the event is dropped and the drop is logged.
func (n *Notifier) Broadcast(e events.ChangeEvent) {
	if !n.cfg.Enabled {
		return
	}
	select {
	case n.queue <- e:
	default:
		n.logger.Warn("notify: queue full, dropping event", "type", string(e.Type))
	}
}

// Start launches the delivery worker. No-op when disabled.
func (n *Notifier) Start() {
	if !n.cfg.Enabled {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-n.stop:
				n.drain()
				return
			case e := <-n.queue:
				n.deliver(e)
			}
		}
	}()
}

// Stop flushes queued events and waits for the worker to exit.
func (n *Notifier) Stop() {
	close(n.stop)
	n.wg.Wait()
}

// drain delivers whatever is still queued at shutdown. Bounded by the
// queue size and the client timeout.
func (n *Notifier) drain() {
	for {
		select {
		case e := <-n.queue:
			n.deliver(e)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(e events.ChangeEvent) {
	if n.cfg.Webhook != "" {
		n.sendWebhook(e)
	}
	if n.cfg.NtfyURL != "" {
		n.sendNtfy(e)
	}
}

func (n *Notifier) sendWebhook(e events.ChangeEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := n.post(n.cfg.Webhook, data); err != nil {
		n.logger.Warn("notify: webhook post failed", "err", err)
	}
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(e events.ChangeEvent) {
	payload := ntfyPayload{
		Title:    title(e),
		Message:  summarize(e),
		Priority: 3,
		Tags:     []string{"clipboard"},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := n.post(n.cfg.NtfyURL, data); err != nil {
		n.logger.Warn("notify: ntfy post failed", "err", err)
	}
}

func (n *Notifier) post(url string, body []byte) error {
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func title(e events.ChangeEvent) string {
	switch e.Type {
	case events.TaskAdded:
		return "task added"
	case events.TaskUpdated:
		return "task updated"
	case events.TaskDeleted:
		return "task deleted"
	default:
		return string(e.Type)
	}
}

func summarize(e events.ChangeEvent) string {
	switch e.Type {
	case events.TaskDeleted:
		return fmt.Sprintf("task %s removed", e.TaskID)
	default:
		if e.Task != nil {
			return fmt.Sprintf("task %s for %s", e.Task.ID, e.Task.Owner)
		}
		return string(e.Type)
	}
}
