package mutation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"

	"github.com/matheus3301/bubbled/internal/bus"
	"github.com/matheus3301/bubbled/internal/remote"
	"github.com/matheus3301/bubbled/internal/store"
	bsync "github.com/matheus3301/bubbled/internal/sync"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeServer is a minimal stateful BlueBubbles server: sent texts become
// messages returned by the chat message endpoint.
type fakeServer struct {
	mu       gosync.Mutex
	messages []map[string]any
	reacts   []string
	typing   []bool
	fetches  int
}

func (s *fakeServer) find(guid any) map[string]any {
	for _, m := range s.messages {
		if m["guid"] == guid {
			return m
		}
	}
	return map[string]any{}
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	var data any = map[string]any{}
	switch {
	case r.URL.Path == "/api/v1/message/text":
		m := map[string]any{
			"guid":        "srv-" + string(rune('a'+len(s.messages))),
			"text":        body["message"],
			"isFromMe":    true,
			"dateCreated": 1000 + len(s.messages),
		}
		s.messages = append([]map[string]any{m}, s.messages...)
		data = m
	case r.URL.Path == "/api/v1/message/react":
		s.reacts = append(s.reacts, body["reaction"].(string))
	case r.URL.Path == "/api/v1/message/edit":
		m := s.find(body["messageGuid"])
		m["text"] = body["editedMessage"]
		m["dateEdited"] = 5000
	case r.URL.Path == "/api/v1/message/unsend":
		s.find(body["messageGuid"])["dateRetracted"] = 6000
	case r.URL.Path == "/api/v1/chat/typing":
		s.typing = append(s.typing, body["display"] == true)
	case strings.HasSuffix(r.URL.Path, "/message"):
		s.fetches++
		data = s.messages
	case r.URL.Path == "/api/v1/chat/new":
		data = map[string]any{"guid": "iMessage;-;+15550009", "chatIdentifier": "+15550009",
			"participants": []map[string]any{{"originalROWID": 9, "address": "+15550009"}}}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": 200, "data": data})
}

func setup(t *testing.T) (*Coordinator, *store.DB, *fakeServer, *bus.Bus) {
	t.Helper()
	db := testDB(t)
	fs := &fakeServer{}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	rec := bsync.NewReconciler(db, nil)
	if err := rec.ApplyChats(context.Background(), []remote.Chat{{GUID: "chat-1"}}); err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	return NewCoordinator(db, rec, remote.NewClient(srv.URL, "pw"), b, nil), db, fs, b
}

func TestSendTextWriteThrough(t *testing.T) {
	c, db, _, b := setup(t)
	ch, unsub := b.Subscribe("mutation.", 4)
	defer unsub()

	res := c.SendText(context.Background(), "chat-1", "hello")
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}

	msgs, err := db.ListMessages("chat-1", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want the server-confirmed one", len(msgs))
	}
	if msgs[0].GUID != "srv-a" || msgs[0].Text != "hello" || !msgs[0].FromMe {
		t.Errorf("message = %+v", msgs[0])
	}

	entries, err := db.RecentMutations(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != store.MutationSent || entries[0].Kind != "send_text" {
		t.Errorf("journal = %+v", entries)
	}

	evt := <-ch
	if me, ok := evt.Payload.(MutationEvent); !ok || !me.OK || me.ChatGUID != "chat-1" {
		t.Errorf("event payload = %#v", evt.Payload)
	}
}

func TestValidation(t *testing.T) {
	c, db, _, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		res  Result
		want error
	}{
		{"empty text", c.SendText(ctx, "chat-1", "  "), ErrMissingField},
		{"empty chat", c.MarkRead(ctx, ""), ErrMissingField},
		{"unknown chat", c.SendText(ctx, "nope", "hi"), ErrUnknownChat},
		{"missing message", c.SendReaction(ctx, "chat-1", "", "love"), ErrMissingField},
		{"no addresses", c.CreateChat(ctx, []string{" "}, "hi"), ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.res.OK {
				t.Fatal("expected failure")
			}
			if !strings.Contains(tt.res.Message, tt.want.Error()) {
				t.Errorf("message = %q, want %q", tt.res.Message, tt.want)
			}
		})
	}
	if res := c.SendReaction(ctx, "chat-1", "m1", "wave"); res.OK || !strings.Contains(res.Message, "unknown reaction") {
		t.Errorf("bad reaction result = %+v", res)
	}

	entries, _ := db.RecentMutations(10)
	if len(entries) != 0 {
		t.Errorf("validation failures were journaled: %+v", entries)
	}
}

type failingRemote struct {
	Remote
	err error
}

func (f failingRemote) SendText(context.Context, string, string) (*remote.Message, error) {
	return nil, f.err
}

func TestRemoteFailureBecomesResult(t *testing.T) {
	db := testDB(t)
	rec := bsync.NewReconciler(db, nil)
	_ = rec.ApplyChats(context.Background(), []remote.Chat{{GUID: "chat-1"}})
	c := NewCoordinator(db, rec, failingRemote{err: &remote.Error{Kind: remote.KindStatus, Op: "POST", Status: 500, Message: "down"}}, nil, nil)

	res := c.SendText(context.Background(), "chat-1", "hi")
	if res.OK || !strings.Contains(res.Message, "down") {
		t.Errorf("result = %+v", res)
	}
	entries, _ := db.RecentMutations(1)
	if len(entries) != 1 || entries[0].Status != store.MutationFailed {
		t.Errorf("journal = %+v", entries)
	}
}

type panickingRemote struct{ Remote }

func (panickingRemote) MarkRead(context.Context, string) error { panic("nil map") }

func TestPanicBecomesResult(t *testing.T) {
	db := testDB(t)
	rec := bsync.NewReconciler(db, nil)
	_ = rec.ApplyChats(context.Background(), []remote.Chat{{GUID: "chat-1"}})
	c := NewCoordinator(db, rec, panickingRemote{}, nil, nil)

	if res := c.MarkRead(context.Background(), "chat-1"); res.OK {
		t.Errorf("result = %+v, want failure", res)
	}
}

func TestRemoveReactionSendsNamedRemoval(t *testing.T) {
	c, db, fs, _ := setup(t)
	ctx := context.Background()

	if err := db.UpsertMessage(&store.Message{GUID: "m1", ChatGUID: "chat-1", DateCreated: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&store.Message{GUID: "r1", ChatGUID: "chat-1", DateCreated: 2, FromMe: true,
		AssociatedGUID: "p:0/m1", AssociatedType: "2003"}); err != nil {
		t.Fatal(err)
	}

	if res := c.SendReaction(ctx, "chat-1", "m1", "Emphasis"); !res.OK {
		t.Fatalf("react = %+v", res)
	}
	if res := c.RemoveReaction(ctx, "chat-1", "m1"); !res.OK {
		t.Fatalf("unreact = %+v", res)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.reacts) != 2 || fs.reacts[0] != "emphasize" || fs.reacts[1] != "-laugh" {
		t.Errorf("reactions sent = %v", fs.reacts)
	}
}

func TestCreateChat(t *testing.T) {
	c, db, _, _ := setup(t)

	res := c.CreateChat(context.Background(), []string{"+15550009"}, "")
	if !res.OK || res.ChatGUID != "iMessage;-;+15550009" {
		t.Fatalf("result = %+v", res)
	}
	chat, err := db.GetChat(res.ChatGUID)
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil || len(chat.Participants) != 1 {
		t.Errorf("chat = %+v", chat)
	}
}

func TestEditAndUnsendResync(t *testing.T) {
	c, db, _, _ := setup(t)
	ctx := context.Background()

	if res := c.SendText(ctx, "chat-1", "helo"); !res.OK {
		t.Fatalf("send = %+v", res)
	}
	if res := c.Edit(ctx, "chat-1", "srv-a", "hello"); !res.OK {
		t.Fatalf("edit = %+v", res)
	}
	m, err := db.GetMessage("srv-a")
	if err != nil || m == nil {
		t.Fatalf("message = %v, %v", m, err)
	}
	if m.Text != "hello" || m.DateEdited != 5000 {
		t.Errorf("after edit text = %q, date_edited = %d", m.Text, m.DateEdited)
	}

	if res := c.Unsend(ctx, "chat-1", "srv-a"); !res.OK {
		t.Fatalf("unsend = %+v", res)
	}
	if m, _ = db.GetMessage("srv-a"); m == nil || m.DateRetracted != 6000 {
		t.Errorf("after unsend = %+v", m)
	}

	entries, _ := db.RecentMutations(5)
	kinds := map[string]string{}
	for _, e := range entries {
		kinds[e.Kind] = e.Status + ":" + e.TargetGUID
	}
	if kinds["edit"] != "sent:srv-a" || kinds["unsend"] != "sent:srv-a" {
		t.Errorf("journal = %v", kinds)
	}
}

func TestSetTypingSkipsResync(t *testing.T) {
	c, _, fs, _ := setup(t)

	if res := c.SetTyping(context.Background(), "chat-1", true); !res.OK {
		t.Fatalf("typing = %+v", res)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.typing) != 1 || !fs.typing[0] {
		t.Errorf("typing calls = %v", fs.typing)
	}
	if fs.fetches != 0 {
		t.Errorf("message fetches = %d, want 0", fs.fetches)
	}
}

type createOnlyRemote struct {
	Remote
	fetches int
}

func (r *createOnlyRemote) CreateChat(context.Context, []string, string) (*remote.Chat, error) {
	return &remote.Chat{GUID: "iMessage;-;+15550009"}, nil
}

func (r *createOnlyRemote) ChatMessages(context.Context, string, int, int) ([]remote.Message, error) {
	r.fetches++
	return nil, nil
}

func TestCreateChatLocalApplyFailureStillOK(t *testing.T) {
	db := testDB(t)
	rc := &createOnlyRemote{}
	c := NewCoordinator(db, bsync.NewReconciler(db, nil), rc, nil, nil)

	// A cancelled context fails the local apply after the server call returned.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.CreateChat(ctx, []string{"+15550009"}, "")
	if !res.OK || res.ChatGUID != "iMessage;-;+15550009" {
		t.Fatalf("result = %+v, want OK", res)
	}
	entries, _ := db.RecentMutations(1)
	if len(entries) != 1 || entries[0].Status != store.MutationSent {
		t.Errorf("journal = %+v", entries)
	}
	if chat, _ := db.GetChat(res.ChatGUID); chat != nil {
		t.Errorf("chat applied despite cancelled context: %+v", chat)
	}
	if rc.fetches != 0 {
		t.Errorf("resync fetches = %d, want 0 after failed apply", rc.fetches)
	}
}

func TestSendAttachmentMissingFile(t *testing.T) {
	c, _, _, _ := setup(t)
	res := c.SendAttachment(context.Background(), "chat-1", filepath.Join(t.TempDir(), "nope.png"), "")
	if res.OK || !strings.Contains(res.Message, "attachment") {
		t.Errorf("result = %+v", res)
	}
}
