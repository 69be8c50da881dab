package webserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ShehabShan/TaskGuru-server/internal/webserver"
)

// startRealtimeServer runs the full handler stack on a real listener so
// websocket upgrades work.
func startRealtimeServer(t *testing.T, srv *webserver.Server) (httpURL, wsURL string) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialRealtime(t *testing.T, wsURL, query string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws"+query, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e map[string]any
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return e
}

func postJSON(t *testing.T, url, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func TestRealtimeRejectsMissingClaim(t *testing.T) {
	srv, _ := newTestServer(t)
	_, wsURL := startRealtimeServer(t, srv)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
	if err == nil {
		t.Fatal("dial without claim succeeded")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401 handshake refusal, got %+v", resp)
	}
}

func TestRealtimeRejectsInvalidToken(t *testing.T) {
	srv, _ := newTestServer(t)
	_, wsURL := startRealtimeServer(t, srv)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws?token=not-a-jwt", nil)
	if err == nil {
		t.Fatal("dial with bogus token succeeded")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestRealtimeAcceptsEmailClaim(t *testing.T) {
	srv, _ := newTestServer(t)
	httpURL, wsURL := startRealtimeServer(t, srv)

	dialRealtime(t, wsURL, "?email=pat@example.com", nil)

	// The session shows up in the health summary once admitted.
	waitForSessionCount(t, httpURL, 1)
}

func TestRealtimeAcceptsBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	httpURL, wsURL := startRealtimeServer(t, srv)

	token, err := webserver.IssueAccessToken("test-secret", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	header := http.Header{"Authorization": {"Bearer " + token}}
	dialRealtime(t, wsURL, "", header)

	waitForSessionCount(t, httpURL, 1)
}

func TestRealtimeFeedDeliversMutationsInOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	httpURL, wsURL := startRealtimeServer(t, srv)
	conn := dialRealtime(t, wsURL, "?email=watcher@example.com", nil)
	waitForSessionCount(t, httpURL, 1)

	created := postJSON(t, httpURL+"/tasks", `{"email":"pat@example.com","title":"step one"}`)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("create returned %v", created)
	}

	req, _ := http.NewRequest("PUT", httpURL+"/tasks/"+id, strings.NewReader(`{"title":"step two"}`))
	req.Header.Set("Content-Type", "application/json")
	if resp, err := http.DefaultClient.Do(req); err != nil || resp.StatusCode != 200 {
		t.Fatalf("update: %v %v", err, resp)
	}
	req, _ = http.NewRequest("DELETE", httpURL+"/tasks/"+id, nil)
	if resp, err := http.DefaultClient.Do(req); err != nil || resp.StatusCode != 200 {
		t.Fatalf("delete: %v %v", err, resp)
	}

	added := readEvent(t, conn)
	if added["type"] != "taskAdded" {
		t.Fatalf("first event = %v, want taskAdded", added)
	}
	task, _ := added["task"].(map[string]any)
	if task == nil || task["id"] != id {
		t.Fatalf("taskAdded payload = %v", added)
	}

	updated := readEvent(t, conn)
	if updated["type"] != "taskUpdated" {
		t.Fatalf("second event = %v, want taskUpdated", updated)
	}
	task, _ = updated["task"].(map[string]any)
	if task == nil || task["title"] != "step two" {
		t.Fatalf("taskUpdated payload = %v", updated)
	}

	deleted := readEvent(t, conn)
	if deleted["type"] != "taskDeleted" {
		t.Fatalf("third event = %v, want taskDeleted", deleted)
	}
	// Deletions carry the bare identifier, not a task document.
	if deleted["id"] != id {
		t.Fatalf("taskDeleted id = %v, want %v", deleted["id"], id)
	}
	if _, hasTask := deleted["task"]; hasTask {
		t.Fatalf("taskDeleted carries a task document: %v", deleted)
	}
}

func TestRealtimeEveryClientHearsEveryChange(t *testing.T) {
	srv, _ := newTestServer(t)
	httpURL, wsURL := startRealtimeServer(t, srv)

	connA := dialRealtime(t, wsURL, "?email=a@example.com", nil)
	connB := dialRealtime(t, wsURL, "?email=b@example.com", nil)
	waitForSessionCount(t, httpURL, 2)

	postJSON(t, httpURL+"/tasks", `{"email":"a@example.com","title":"shared"}`)

	for _, conn := range []*websocket.Conn{connA, connB} {
		e := readEvent(t, conn)
		if e["type"] != "taskAdded" {
			t.Fatalf("event = %v, want taskAdded", e)
		}
	}
}

func TestRealtimeRequireTokenRefusesBareEmail(t *testing.T) {
	srv, _ := newTestServerWithAuth(t, webserver.AuthConfig{
		JWTSecret:    "test-secret",
		TokenTTL:     "1h",
		RequireToken: true,
	})
	_, wsURL := startRealtimeServer(t, srv)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws?email=pat@example.com", nil)
	if err == nil {
		t.Fatal("bare email accepted despite requireToken")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestRealtimeDisconnectDropsSession(t *testing.T) {
	srv, _ := newTestServer(t)
	httpURL, wsURL := startRealtimeServer(t, srv)

	conn := dialRealtime(t, wsURL, "?email=pat@example.com", nil)
	waitForSessionCount(t, httpURL, 1)

	conn.Close()
	waitForSessionCount(t, httpURL, 0)
}

func waitForSessionCount(t *testing.T, httpURL string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(httpURL + "/")
		if err != nil {
			t.Fatalf("health: %v", err)
		}
		var health map[string]any
		json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if int(health["activeSessionCount"].(float64)) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session count never reached %d: %v", want, health)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
