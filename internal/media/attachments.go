package media

import (
	"context"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/matheus3301/bubbled/internal/remote"
	"go.uber.org/zap"
)

// AttachmentSource fetches attachment metadata and content from the server.
type AttachmentSource interface {
	AttachmentInfo(ctx context.Context, guid string) (*remote.AttachmentInfo, error)
	DownloadAttachment(ctx context.Context, guid string) ([]byte, error)
}

// Attachments downloads attachment content through a Cache and remembers
// the metadata seen along the way.
type Attachments struct {
	cache  *Cache
	src    AttachmentSource
	logger *zap.Logger

	mu   sync.RWMutex
	meta map[string]*remote.AttachmentInfo
}

func NewAttachments(cache *Cache, src AttachmentSource, logger *zap.Logger) *Attachments {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attachments{
		cache:  cache,
		src:    src,
		logger: logger,
		meta:   make(map[string]*remote.AttachmentInfo),
	}
}

// Get returns the attachment's bytes, or nil. On a miss the metadata is
// fetched first; a metadata failure does not prevent the download.
func (a *Attachments) Get(ctx context.Context, guid string) []byte {
	if guid == "" {
		return nil
	}
	return a.cache.Get(ctx, "attachment:"+guid, func(ctx context.Context) ([]byte, error) {
		if info, err := a.src.AttachmentInfo(ctx, guid); err != nil {
			a.logger.Debug("attachment metadata failed", zap.String("guid", guid), zap.Error(err))
		} else if info != nil {
			a.remember(guid, info)
		}
		return a.src.DownloadAttachment(ctx, guid)
	})
}

// Metadata returns the cached metadata for guid, or nil.
func (a *Attachments) Metadata(guid string) *remote.AttachmentInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.meta[guid]
}

// Extension returns the file extension for an attachment, including the
// dot. The declared MIME type wins; content sniffing covers the rest.
func (a *Attachments) Extension(guid string, content []byte) string {
	if info := a.Metadata(guid); info != nil && info.MimeType != "" {
		if m := mimetype.Lookup(strings.ToLower(info.MimeType)); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	if len(content) > 0 {
		return mimetype.Detect(content).Extension()
	}
	return ""
}

// Clear drops cached content and metadata.
func (a *Attachments) Clear() error {
	a.mu.Lock()
	a.meta = make(map[string]*remote.AttachmentInfo)
	a.mu.Unlock()
	return a.cache.Clear()
}

func (a *Attachments) remember(guid string, info *remote.AttachmentInfo) {
	a.mu.Lock()
	a.meta[guid] = info
	a.mu.Unlock()
}

// Attachment kinds as shown by clients.
const (
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindPDF      = "pdf"
	KindDocument = "document"
	KindFile     = "file"
)

// AttachmentKind buckets a MIME type into a display kind.
func AttachmentKind(mime string) string {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	case strings.Contains(mime, "pdf"):
		return KindPDF
	case strings.Contains(mime, "word"), strings.Contains(mime, "document"), strings.Contains(mime, "text"):
		return KindDocument
	default:
		return KindFile
	}
}

// SizeString formats a byte count in binary units, e.g. "1.5 KiB".
func SizeString(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
