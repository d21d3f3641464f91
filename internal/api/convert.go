package api

import (
	"github.com/matheus3301/bubbled/internal/media"
	"github.com/matheus3301/bubbled/internal/mutation"
	"github.com/matheus3301/bubbled/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func newResponse(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func resultResponse(r mutation.Result) (*structpb.Struct, error) {
	out := map[string]any{"ok": r.OK, "message": r.Message}
	if r.ChatGUID != "" {
		out["chat_guid"] = r.ChatGUID
	}
	return newResponse(out)
}

func strArg(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func boolArg(in *structpb.Struct, key string) bool {
	return in.GetFields()[key].GetBoolValue()
}

func intArg(in *structpb.Struct, key string, def int) int {
	v, ok := in.GetFields()[key]
	if !ok {
		return def
	}
	if n := int(v.GetNumberValue()); n > 0 {
		return n
	}
	return def
}

func chatFields(c *store.Chat) map[string]any {
	participants := make([]any, 0, len(c.Participants))
	for _, p := range c.Participants {
		participants = append(participants, p.Address)
	}
	return map[string]any{
		"guid":         c.GUID,
		"title":        c.Title(),
		"is_group":     c.IsGroup(),
		"last_text":    c.LastMessage.Text,
		"last_date":    c.LastMessage.Date,
		"last_from_me": c.LastMessage.FromMe,
		"participants": participants,
	}
}

func itemFields(it *store.ThreadItem) map[string]any {
	m := &it.Message
	sender := m.HandleAddress
	if m.FromMe {
		sender = "me"
	}

	badges := make([]any, 0, len(it.Badges))
	for _, b := range it.Badges {
		badges = append(badges, map[string]any{"reaction": b.Reaction, "count": b.Count, "from_me": b.FromMe})
	}
	attachments := make([]any, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, map[string]any{
			"guid":      a.GUID,
			"name":      a.TransferName,
			"mime_type": a.MimeType,
			"kind":      media.AttachmentKind(a.MimeType),
			"size":      media.SizeString(a.TotalBytes),
		})
	}
	return map[string]any{
		"guid":        m.GUID,
		"text":        m.Text,
		"sender":      sender,
		"from_me":     m.FromMe,
		"date":        m.DateCreated,
		"edited":      m.DateEdited > 0,
		"retracted":   m.DateRetracted > 0,
		"badges":      badges,
		"attachments": attachments,
	}
}
