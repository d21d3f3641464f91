package media

import (
	"context"

	"github.com/matheus3301/bubbled/internal/store"
)

// AvatarSource fetches avatar bytes from the server.
type AvatarSource interface {
	ContactAvatar(ctx context.Context, address string) ([]byte, error)
	ChatIcon(ctx context.Context, chatGUID string) ([]byte, error)
}

// Avatars resolves contact and group pictures through a Cache.
type Avatars struct {
	cache *Cache
	src   AvatarSource
}

// NewAvatars creates an avatar resolver. The cache should validate images.
func NewAvatars(cache *Cache, src AvatarSource) *Avatars {
	return &Avatars{cache: cache, src: src}
}

// Contact returns the avatar of the contact at address, or nil.
func (a *Avatars) Contact(ctx context.Context, address string) []byte {
	if address == "" {
		return nil
	}
	return a.cache.Get(ctx, "contact:"+address, func(ctx context.Context) ([]byte, error) {
		return a.src.ContactAvatar(ctx, address)
	})
}

// Group returns a group chat's icon, or nil.
func (a *Avatars) Group(ctx context.Context, chatGUID string) []byte {
	if chatGUID == "" {
		return nil
	}
	return a.cache.Get(ctx, "group:"+chatGUID, func(ctx context.Context) ([]byte, error) {
		return a.src.ChatIcon(ctx, chatGUID)
	})
}

// ForChat returns the picture shown for chat: the group icon for groups,
// the participant's avatar otherwise, and a generated fallback when neither
// exists.
func (a *Avatars) ForChat(ctx context.Context, chat *store.Chat, size int) []byte {
	var b []byte
	switch {
	case chat.IsGroup():
		b = a.Group(ctx, chat.GUID)
	case len(chat.Participants) > 0:
		b = a.Contact(ctx, chat.Participants[0].Address)
	}
	return OrFallback(b, chat.Title(), size)
}

// OrFallback returns b, or a generated initials avatar for name when b is empty.
func OrFallback(b []byte, name string, size int) []byte {
	if len(b) > 0 {
		return b
	}
	return GenerateFallback(name, size)
}

// Clear drops every cached avatar.
func (a *Avatars) Clear() error { return a.cache.Clear() }
