package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/bubbled/internal/media"
	"github.com/matheus3301/bubbled/internal/mutation"
	"github.com/matheus3301/bubbled/internal/status"
	"github.com/matheus3301/bubbled/internal/store"
	bsync "github.com/matheus3301/bubbled/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceConfig holds the plain values the control service reports or uses.
type ServiceConfig struct {
	Profile  string
	ChatPage int
}

// Service implements ControlServer on top of the daemon's components.
type Service struct {
	cfg         ServiceConfig
	startedAt   time.Time
	machine     *status.Machine
	db          *store.DB
	engine      *bsync.Engine
	poller      *bsync.Poller
	mutations   *mutation.Coordinator
	avatars     *media.Avatars
	attachments *media.Attachments
	logger      *zap.Logger
}

// NewService creates the control service. poller, avatars and attachments
// may be nil.
func NewService(
	cfg ServiceConfig,
	machine *status.Machine,
	db *store.DB,
	engine *bsync.Engine,
	poller *bsync.Poller,
	mutations *mutation.Coordinator,
	avatars *media.Avatars,
	attachments *media.Attachments,
	logger *zap.Logger,
) *Service {
	if cfg.ChatPage <= 0 {
		cfg.ChatPage = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:         cfg,
		startedAt:   time.Now(),
		machine:     machine,
		db:          db,
		engine:      engine,
		poller:      poller,
		mutations:   mutations,
		avatars:     avatars,
		attachments: attachments,
		logger:      logger,
	}
}

func (s *Service) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out := map[string]any{
		"profile":   s.cfg.Profile,
		"state":     string(s.machine.Current()),
		"detail":    s.machine.Detail(),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
	if s.poller != nil {
		out["polling"] = s.poller.Running()
		out["interval_seconds"] = s.poller.Interval().Seconds()
	}

	stats, err := s.db.Stats()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "stats: %v", err)
	}
	out["chats"] = stats.Chats
	out["messages"] = stats.Messages
	out["handles"] = stats.Handles
	out["reactions"] = stats.Reactions
	if v, err := s.db.SchemaVersion(); err == nil {
		out["schema_version"] = int64(v)
	}

	for key, name := range map[string]string{bsync.CheckpointSweep: "last_sweep", bsync.CheckpointChatSync: "last_chat_sync"} {
		if v, err := s.db.Checkpoint(key); err == nil && v != "" {
			out[name] = v
		}
	}

	entries, err := s.db.RecentMutations(5)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "mutations: %v", err)
	}
	recent := make([]any, 0, len(entries))
	for _, e := range entries {
		recent = append(recent, map[string]any{
			"id":     e.MutationID,
			"kind":   e.Kind,
			"chat":   e.ChatGUID,
			"status": e.Status,
			"error":  e.ErrorMessage,
			"at":     e.UpdatedAt,
		})
	}
	out["recent_mutations"] = recent
	return newResponse(out)
}

// SyncNow refreshes the chat list and wakes the poller for an immediate
// sweep. A failed refresh still reports the cached chat count.
func (s *Service) SyncNow(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	chats, err := s.engine.SyncChats(ctx, s.cfg.ChatPage)
	if s.poller != nil {
		s.poller.Trigger()
	}
	out := map[string]any{"ok": err == nil, "chats": len(chats)}
	if err != nil {
		out["error"] = err.Error()
	}
	return newResponse(out)
}

func (s *Service) ListChats(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chats, err := s.db.ListChats(intArg(in, "limit", s.cfg.ChatPage), intArg(in, "offset", 0))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	list := make([]any, 0, len(chats))
	for i := range chats {
		list = append(list, chatFields(&chats[i]))
	}
	return newResponse(map[string]any{"chats": list})
}

// ListThread returns a chat's visible messages with reaction badges. With
// refresh set, the newest page is pulled from the server first; a failed
// pull still returns the cached thread.
func (s *Service) ListThread(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	guid := strArg(in, "chat_guid")
	if guid == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_guid is required")
	}
	if err := s.requireChat(guid); err != nil {
		return nil, err
	}
	limit := intArg(in, "limit", 50)

	out := map[string]any{}
	if boolArg(in, "refresh") {
		if _, err := s.engine.SyncChatMessages(ctx, guid, limit); err != nil {
			out["stale"] = true
			out["error"] = err.Error()
		}
	}

	items, err := s.db.ListThread(guid, limit, intArg(in, "offset", 0))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list thread: %v", err)
	}
	list := make([]any, 0, len(items))
	for i := range items {
		list = append(list, itemFields(&items[i]))
	}
	out["messages"] = list
	return newResponse(out)
}

// SendText sends text, or an attachment with text as its caption when
// attachment is set.
func (s *Service) SendText(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	guid, text := strArg(in, "chat_guid"), strArg(in, "text")
	if path := strArg(in, "attachment"); path != "" {
		return resultResponse(s.mutations.SendAttachment(ctx, guid, path, text))
	}
	return resultResponse(s.mutations.SendText(ctx, guid, text))
}

func (s *Service) MarkRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return resultResponse(s.mutations.MarkRead(ctx, strArg(in, "chat_guid")))
}

func (s *Service) React(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chat, msg := strArg(in, "chat_guid"), strArg(in, "message_guid")
	if boolArg(in, "remove") {
		return resultResponse(s.mutations.RemoveReaction(ctx, chat, msg))
	}
	return resultResponse(s.mutations.SendReaction(ctx, chat, msg, strArg(in, "reaction")))
}

// ClearCache drops cached media, and every cached record when records is set.
func (s *Service) ClearCache(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var errs []error
	cleared := []any{}
	if s.avatars != nil {
		errs = append(errs, s.avatars.Clear())
		cleared = append(cleared, "avatars")
	}
	if s.attachments != nil {
		errs = append(errs, s.attachments.Clear())
		cleared = append(cleared, "attachments")
	}
	if boolArg(in, "records") {
		errs = append(errs, s.db.ClearAll())
		cleared = append(cleared, "records")
	}
	if err := errors.Join(errs...); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "clear: %v", err)
	}
	s.logger.Info("cache cleared", zap.Any("cleared", cleared))
	return newResponse(map[string]any{"cleared": cleared})
}

// Avatar returns the PNG or server image shown for a chat.
func (s *Service) Avatar(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	guid := strArg(in, "chat_guid")
	if guid == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_guid is required")
	}
	if s.avatars == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "avatars not configured")
	}
	chat, err := s.db.GetChat(guid)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "get chat: %v", err)
	}
	if chat == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "chat %q not cached", guid)
	}
	b := s.avatars.ForChat(ctx, chat, intArg(in, "size", media.DefaultAvatarSize))
	if len(b) == 0 {
		return nil, grpcstatus.Error(codes.Internal, "avatar unavailable")
	}
	return wrapperspb.Bytes(b), nil
}

// Attachment downloads an attachment's content with its display metadata.
func (s *Service) Attachment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	guid := strArg(in, "guid")
	if guid == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "guid is required")
	}
	if s.attachments == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "attachments not configured")
	}
	b := s.attachments.Get(ctx, guid)
	if len(b) == 0 {
		return nil, grpcstatus.Errorf(codes.NotFound, "attachment %q unavailable", guid)
	}
	out := map[string]any{
		"guid":      guid,
		"extension": s.attachments.Extension(guid, b),
		"size":      media.SizeString(int64(len(b))),
		"data":      b,
	}
	if info := s.attachments.Metadata(guid); info != nil {
		out["name"] = info.TransferName
		out["mime_type"] = info.MimeType
		out["kind"] = media.AttachmentKind(info.MimeType)
	}
	return newResponse(out)
}

func (s *Service) requireChat(guid string) error {
	ok, err := s.db.ChatExists(guid)
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "lookup chat: %v", err)
	}
	if !ok {
		return grpcstatus.Errorf(codes.NotFound, "chat %q not cached", guid)
	}
	return nil
}
