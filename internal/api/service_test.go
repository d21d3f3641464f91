package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/bubbled/internal/bus"
	"github.com/matheus3301/bubbled/internal/media"
	"github.com/matheus3301/bubbled/internal/mutation"
	"github.com/matheus3301/bubbled/internal/remote"
	"github.com/matheus3301/bubbled/internal/status"
	"github.com/matheus3301/bubbled/internal/store"
	bsync "github.com/matheus3301/bubbled/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const chatGUID = "iMessage;-;+1555"

func fakeBlueBubbles(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data any
		switch {
		case r.URL.Path == "/api/v1/chat/query":
			data = []map[string]any{{
				"guid":           chatGUID,
				"chatIdentifier": "+1555",
				"participants":   []map[string]any{{"originalROWID": 1, "address": "+1555"}},
				"lastMessage":    map[string]any{"guid": "m1", "text": "hello", "dateCreated": 100},
			}}
		case strings.HasSuffix(r.URL.Path, "/message"):
			data = []map[string]any{
				{"guid": "m2", "isFromMe": true, "dateCreated": 200, "associatedMessageGuid": "p:0/m1", "associatedMessageType": 2000},
				{"guid": "m1", "text": "hello", "dateCreated": 100, "handle": map[string]any{"originalROWID": 1, "address": "+1555"}},
			}
		case r.URL.Path == "/api/v1/message/text":
			data = map[string]any{"guid": "sent-1"}
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":404,"message":"Not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 200, "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// startControl serves a fully wired Service on a temp Unix socket.
func startControl(t *testing.T) (*Client, *store.DB) {
	t.Helper()
	// Short path for the Unix socket length limit.
	dir, err := os.MkdirTemp("/tmp", "bubbled-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	rc := remote.NewClient(fakeBlueBubbles(t).URL, "pw")
	b := bus.New()
	machine := status.NewMachine(b)
	rec := bsync.NewReconciler(db, nil)
	engine := bsync.NewEngine(db, rec, rc, nil)
	t.Cleanup(func() { engine.Stop(time.Second) })
	poller := bsync.NewPoller(db, rec, machine, bsync.PollerConfig{}, nil)
	coord := mutation.NewCoordinator(db, rec, rc, b, nil)

	avatarCache, err := media.NewCache(filepath.Join(dir, "avatars"), media.WithValidator(media.ImageValidator))
	if err != nil {
		t.Fatal(err)
	}
	attCache, err := media.NewCache(filepath.Join(dir, "attachments"))
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(ServiceConfig{Profile: "test"}, machine, db, engine, poller, coord,
		media.NewAvatars(avatarCache, rc), media.NewAttachments(attCache, rc, nil), nil)

	socketPath := filepath.Join(dir, "d.sock")
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	RegisterControlServer(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.GracefulStop)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, db
}

func TestControlRoundTrip(t *testing.T) {
	c, _ := startControl(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st["profile"] != "test" || st["state"] != "IDLE" || st["chats"] != float64(0) {
		t.Errorf("initial status = %v", st)
	}

	synced, err := c.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow error = %v", err)
	}
	if synced["ok"] != true || synced["chats"] != float64(1) {
		t.Errorf("SyncNow = %v", synced)
	}

	chats, err := c.ListChats(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListChats error = %v", err)
	}
	list := chats["chats"].([]any)
	if len(list) != 1 {
		t.Fatalf("chats = %v", list)
	}
	first := list[0].(map[string]any)
	if first["guid"] != chatGUID || first["title"] != "+1555" || first["last_text"] != "hello" {
		t.Errorf("chat = %v", first)
	}

	thread, err := c.ListThread(ctx, chatGUID, 10, true)
	if err != nil {
		t.Fatalf("ListThread error = %v", err)
	}
	if thread["stale"] != nil {
		t.Errorf("thread stale: %v", thread["error"])
	}
	msgs := thread["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("visible messages = %d, want 1 (reaction folded into badge)", len(msgs))
	}
	m := msgs[0].(map[string]any)
	badges := m["badges"].([]any)
	if m["guid"] != "m1" || m["sender"] != "+1555" || len(badges) != 1 {
		t.Fatalf("message = %v", m)
	}
	if badge := badges[0].(map[string]any); badge["reaction"] != "love" || badge["from_me"] != true {
		t.Errorf("badge = %v", badge)
	}

	sent, err := c.SendText(ctx, chatGUID, "hi there", "")
	if err != nil {
		t.Fatalf("SendText error = %v", err)
	}
	if sent["ok"] != true {
		t.Errorf("SendText = %v", sent)
	}

	st, err = c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	recent := st["recent_mutations"].([]any)
	if st["chats"] != float64(1) || st["messages"] != float64(2) || len(recent) != 1 {
		t.Errorf("status after writes = %v", st)
	}
	if entry := recent[0].(map[string]any); entry["kind"] != "send_text" || entry["status"] != store.MutationSent {
		t.Errorf("mutation entry = %v", entry)
	}
}

func TestControlValidation(t *testing.T) {
	c, _ := startControl(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.ListThread(ctx, "", 10, false)
	if code := grpcstatus.Code(err); code != codes.InvalidArgument {
		t.Errorf("empty guid code = %v, want InvalidArgument", code)
	}
	_, err = c.ListThread(ctx, "missing", 10, false)
	if code := grpcstatus.Code(err); code != codes.NotFound {
		t.Errorf("unknown chat code = %v, want NotFound", code)
	}

	// Mutation failures come back as a result, not an RPC error.
	res, err := c.SendText(ctx, "missing", "hi", "")
	if err != nil {
		t.Fatalf("SendText error = %v", err)
	}
	if res["ok"] != false || res["message"] == "" {
		t.Errorf("SendText to unknown chat = %v", res)
	}

	res, err = c.React(ctx, chatGUID, "m1", "sparkle", false)
	if err != nil {
		t.Fatal(err)
	}
	if res["ok"] != false {
		t.Errorf("bad reaction accepted: %v", res)
	}
}

func TestControlAvatarAndClear(t *testing.T) {
	c, db := startControl(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}

	// The contact has no avatar on the server, so initials are generated.
	img, err := c.Avatar(ctx, chatGUID, 32)
	if err != nil {
		t.Fatalf("Avatar error = %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Errorf("avatar is not a PNG: % x", img[:min(8, len(img))])
	}
	if _, err := c.Avatar(ctx, "missing", 32); grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("avatar for unknown chat err = %v", err)
	}

	if _, _, err := c.Attachment(ctx, "att-1"); grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("missing attachment err = %v", err)
	}

	cleared, err := c.ClearCache(ctx, true)
	if err != nil {
		t.Fatalf("ClearCache error = %v", err)
	}
	if got := cleared["cleared"].([]any); len(got) != 3 {
		t.Errorf("cleared = %v", got)
	}
	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Chats != 0 {
		t.Errorf("chats after clear = %d", stats.Chats)
	}
}
