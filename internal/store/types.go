package store

import (
	"encoding/json"
	"time"
)

// Task is a single task document. The store assigns ID at creation and it is
// immutable afterwards. Owner is the email of the user the task belongs to.
// Everything else the client sends lives in Fields; the store does not care
// what a task looks like beyond identity and ownership.
type Task struct {
	ID        string
	Owner     string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is an account that can own tasks and mint realtime tokens.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// reservedKeys are document keys owned by the server. They are stripped from
// incoming bodies so a client can never overwrite the identifier or the
// server-maintained timestamps.
var reservedKeys = []string{"id", "_id", "email", "createdAt", "updatedAt"}

// MarshalJSON flattens Fields into the wire document alongside the
// server-owned keys, so clients see one flat task object.
func (t *Task) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(t.Fields)+4)
	for k, v := range t.Fields {
		doc[k] = v
	}
	doc["id"] = t.ID
	doc["email"] = t.Owner
	if !t.CreatedAt.IsZero() {
		doc["createdAt"] = t.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !t.UpdatedAt.IsZero() {
		doc["updatedAt"] = t.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON splits a flat wire document into Owner and Fields. Identifier
// keys the client may have sent are dropped, never applied.
func (t *Task) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if v, ok := doc["email"].(string); ok {
		t.Owner = v
	}
	for _, k := range reservedKeys {
		delete(doc, k)
	}
	t.Fields = doc
	return nil
}
