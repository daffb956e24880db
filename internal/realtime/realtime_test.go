package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/planning-poker/backend/internal/models"
	"github.com/planning-poker/backend/internal/sessions"
)

var testDeck = []string{"1", "2", "3", "5", "8", "13", "21", "?"}

func newTestServer(t *testing.T) (*httptest.Server, *sessions.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := sessions.NewRepository()
	hub := NewHub(zap.NewNop())
	router := gin.New()
	router.GET("/ws", ServeWs(hub, repo, testDeck, zap.NewNop()))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, repo
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func dial(t *testing.T, srv *httptest.Server, sessionID uuid.UUID) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?session_id="+sessionID.String()), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return msg
}

// drainSnapshot consumes the join-time snapshot, asserting event order.
func drainSnapshot(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	want := []string{
		models.EventSessionID,
		models.EventDeck,
		models.EventStoryList,
		models.EventSelectedStory,
		models.EventUpdate,
		models.EventHistory,
	}
	for _, event := range want {
		if msg := readEvent(t, conn); msg.Event != event {
			t.Fatalf("snapshot event = %q, want %q", msg.Event, event)
		}
	}
}

// readUntil skips events until the named one arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) WSMessage {
	t.Helper()
	for i := 0; i < 20; i++ {
		if msg := readEvent(t, conn); msg.Event == event {
			return msg
		}
	}
	t.Fatalf("event %q never arrived", event)
	return WSMessage{}
}

func send(t *testing.T, conn *websocket.Conn, event, data string) {
	t.Helper()
	msg := WSMessage{Event: event}
	if data != "" {
		msg.Data = json.RawMessage(data)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

func decodeUpdate(t *testing.T, msg WSMessage) models.UpdatePayload {
	t.Helper()
	var p models.UpdatePayload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	return p
}

func TestConnectRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"missing session_id", "", http.StatusBadRequest},
		{"malformed session_id", "?session_id=nope", http.StatusBadRequest},
		{"unknown session", "?session_id=" + uuid.New().String(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tt.query), nil)
			if err == nil {
				conn.Close()
				t.Fatal("dial succeeded, want rejection")
			}
			if resp == nil || resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %v, want %d", resp, tt.wantStatus)
			}
		})
	}
}

func TestConnectSendsSnapshot(t *testing.T) {
	srv, repo := newTestServer(t)
	s := repo.Create()
	s.AddStory("Login", "login page")

	conn := dial(t, srv, s.ID)

	msg := readEvent(t, conn)
	if msg.Event != models.EventSessionID {
		t.Fatalf("first event = %q, want %q", msg.Event, models.EventSessionID)
	}
	var id string
	if err := json.Unmarshal(msg.Data, &id); err != nil {
		t.Fatal(err)
	}
	if id != s.ID.String() {
		t.Errorf("sessionID = %q, want %q", id, s.ID)
	}

	msg = readEvent(t, conn)
	if msg.Event != models.EventDeck {
		t.Fatalf("second event = %q, want %q", msg.Event, models.EventDeck)
	}
	var deck []string
	if err := json.Unmarshal(msg.Data, &deck); err != nil {
		t.Fatal(err)
	}
	if len(deck) != len(testDeck) {
		t.Errorf("deck = %v, want %v", deck, testDeck)
	}

	msg = readEvent(t, conn)
	if msg.Event != models.EventStoryList {
		t.Fatalf("third event = %q, want %q", msg.Event, models.EventStoryList)
	}
	var stories []models.Story
	if err := json.Unmarshal(msg.Data, &stories); err != nil {
		t.Fatal(err)
	}
	if len(stories) != 1 || stories[0].Title != "Login" {
		t.Errorf("stories = %+v, want [Login]", stories)
	}

	for _, event := range []string{models.EventSelectedStory, models.EventUpdate, models.EventHistory} {
		if msg = readEvent(t, conn); msg.Event != event {
			t.Fatalf("snapshot event = %q, want %q", msg.Event, event)
		}
	}

	if got := s.MemberCount(); got != 1 {
		t.Errorf("member count = %d, want 1", got)
	}
}

func TestVoteMaskingAndReveal(t *testing.T) {
	srv, repo := newTestServer(t)
	s := repo.Create()

	c1 := dial(t, srv, s.ID)
	drainSnapshot(t, c1)
	c2 := dial(t, srv, s.ID)
	drainSnapshot(t, c2)

	send(t, c1, models.EventVote, `{"value":"5"}`)

	for _, conn := range []*websocket.Conn{c1, c2} {
		p := decodeUpdate(t, readUntil(t, conn, models.EventUpdate))
		if p.Revealed {
			t.Error("round revealed before reveal event")
		}
		if len(p.Votes) != 1 {
			t.Fatalf("votes = %+v, want one masked entry", p.Votes)
		}
		if p.Votes[0].Value != nil {
			t.Errorf("masked vote leaked value %q", *p.Votes[0].Value)
		}
	}

	send(t, c2, models.EventReveal, "")
	for _, conn := range []*websocket.Conn{c1, c2} {
		p := decodeUpdate(t, readUntil(t, conn, models.EventUpdate))
		if !p.Revealed {
			t.Error("update not revealed after reveal")
		}
		if len(p.Votes) != 1 || p.Votes[0].Value == nil || *p.Votes[0].Value != "5" {
			t.Errorf("revealed votes = %+v, want value 5", p.Votes)
		}
	}
}

func TestRevealRecordsHistory(t *testing.T) {
	srv, repo := newTestServer(t)
	s := repo.Create()
	story, _ := s.AddStory("Login", "")

	c1 := dial(t, srv, s.ID)
	drainSnapshot(t, c1)

	send(t, c1, models.EventSelectStory, `{"storyId":"`+story.ID.String()+`"}`)
	readUntil(t, c1, models.EventSelectedStory)

	send(t, c1, models.EventVote, `{"value":"3"}`)
	readUntil(t, c1, models.EventUpdate)

	send(t, c1, models.EventReveal, "")
	msg := readUntil(t, c1, models.EventHistory)
	var history []models.HistoryEntry
	if err := json.Unmarshal(msg.Data, &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Title != "Login" || history[0].Average != 3 {
		t.Errorf("history = %+v, want [{Login 3}]", history)
	}
}

func TestAddStoryOverSocket(t *testing.T) {
	srv, repo := newTestServer(t)
	s := repo.Create()

	c1 := dial(t, srv, s.ID)
	drainSnapshot(t, c1)

	send(t, c1, models.EventAddStory, `{"title":"Signup","description":"signup page"}`)
	msg := readUntil(t, c1, models.EventStoryList)
	var stories []models.Story
	if err := json.Unmarshal(msg.Data, &stories); err != nil {
		t.Fatal(err)
	}
	if len(stories) != 1 || stories[0].Title != "Signup" {
		t.Errorf("stories = %+v, want [Signup]", stories)
	}

	// Duplicate title answers only this client with an error event.
	send(t, c1, models.EventAddStory, `{"title":"signup"}`)
	errMsg := readUntil(t, c1, models.EventError)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(errMsg.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Message == "" {
		t.Error("error event has no message")
	}
}

func TestSelectUnknownStoryErrorEvent(t *testing.T) {
	srv, repo := newTestServer(t)
	s := repo.Create()

	c1 := dial(t, srv, s.ID)
	drainSnapshot(t, c1)

	send(t, c1, models.EventSelectStory, `{"storyId":"`+uuid.New().String()+`"}`)
	msg := readUntil(t, c1, models.EventError)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Message != models.ErrStoryNotFound.Error() {
		t.Errorf("error message = %q, want %q", payload.Message, models.ErrStoryNotFound)
	}
	if s.SelectedStoryID() != nil {
		t.Error("failed selectStory changed the selection")
	}
}

func TestDisconnectRemovesVoteAndMember(t *testing.T) {
	srv, repo := newTestServer(t)
	s := repo.Create()

	c1 := dial(t, srv, s.ID)
	drainSnapshot(t, c1)
	c2 := dial(t, srv, s.ID)
	drainSnapshot(t, c2)

	send(t, c1, models.EventVote, `{"value":"8"}`)
	readUntil(t, c2, models.EventUpdate)

	_ = c1.Close()

	p := decodeUpdate(t, readUntil(t, c2, models.EventUpdate))
	if len(p.Votes) != 0 {
		t.Errorf("votes after disconnect = %+v, want none", p.Votes)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.MemberCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.MemberCount(); got != 1 {
		t.Errorf("member count after disconnect = %d, want 1", got)
	}
}

func TestBroadcastScopedToSession(t *testing.T) {
	srv, repo := newTestServer(t)
	a := repo.Create()
	b := repo.Create()

	cA := dial(t, srv, a.ID)
	drainSnapshot(t, cA)
	cB := dial(t, srv, b.ID)
	drainSnapshot(t, cB)

	send(t, cA, models.EventVote, `{"value":"5"}`)
	readUntil(t, cA, models.EventUpdate)

	_ = cB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg WSMessage
	if err := cB.ReadJSON(&msg); err == nil {
		t.Errorf("session b received %q for a vote in session a", msg.Event)
	}
}
