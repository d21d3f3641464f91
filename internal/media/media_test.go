package media

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/bubbled/internal/remote"
	"github.com/matheus3301/bubbled/internal/store"
)

func newCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestGetFetchesOnceAndPersists(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("bytes"), nil
	}

	ctx := context.Background()
	if got := c.Get(ctx, "a", fetch); string(got) != "bytes" {
		t.Fatalf("first get = %q", got)
	}
	if got := c.Get(ctx, "a", fetch); string(got) != "bytes" {
		t.Fatalf("second get = %q", got)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}

	// A fresh cache over the same directory is served from disk.
	c2, err := NewCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := c2.Get(ctx, "a", fetch); string(got) != "bytes" {
		t.Fatalf("disk get = %q", got)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls after reopen = %d, want 1", calls.Load())
	}
}

func TestConcurrentMissFetchesAtMostOnce(t *testing.T) {
	c := newCache(t)
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Get(context.Background(), "k", fetch)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}
	for i, r := range results {
		if string(r) != "shared" {
			t.Errorf("result %d = %q", i, r)
		}
	}
}

func TestFetchFailureReturnsNil(t *testing.T) {
	c := newCache(t)
	tests := []struct {
		name  string
		fetch FetchFunc
	}{
		{"error", func(ctx context.Context) ([]byte, error) { return nil, errors.New("boom") }},
		{"empty", func(ctx context.Context) ([]byte, error) { return nil, nil }},
		{"nil fetcher", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Get(context.Background(), tt.name, tt.fetch); got != nil {
				t.Errorf("got %q, want nil", got)
			}
			if c.Peek(tt.name) != nil {
				t.Error("failure was cached")
			}
		})
	}
}

func TestInvalidDiskEntryDeleted(t *testing.T) {
	c := newCache(t, WithValidator(ImageValidator))
	path := c.path("contact:+1555")
	if err := os.WriteFile(path, []byte("not an image"), 0600); err != nil {
		t.Fatal(err)
	}

	if c.Peek("contact:+1555") != nil {
		t.Fatal("invalid entry served")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("invalid entry still on disk: %v", err)
	}

	img := GenerateFallback("Jane", 0)
	got := c.Get(context.Background(), "contact:+1555", func(ctx context.Context) ([]byte, error) {
		return img, nil
	})
	if !bytes.Equal(got, img) {
		t.Error("valid refetch not served")
	}
}

func TestEmptyDiskEntryDeleted(t *testing.T) {
	c := newCache(t)
	path := c.path("x")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if c.Peek("x") != nil {
		t.Fatal("empty entry served")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("empty entry still on disk: %v", err)
	}
}

func TestMemoryBoundAndClear(t *testing.T) {
	c := newCache(t, WithMemoryEntries(2))
	for _, id := range []string{"a", "b", "c"} {
		c.Put(id, []byte(id))
	}
	if c.Len() != 2 {
		t.Errorf("memory entries = %d, want 2", c.Len())
	}
	// Evicted from memory, still on disk.
	if string(c.Peek("a")) != "a" {
		t.Error("evicted entry not reloaded from disk")
	}

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Errorf("memory entries after clear = %d", c.Len())
	}
	entries, err := os.ReadDir(c.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("disk entries after clear = %d", len(entries))
	}
}

func TestReturnedBytesAreCopies(t *testing.T) {
	c := newCache(t)
	fetch := func(ctx context.Context) ([]byte, error) { return []byte("abc"), nil }

	got := c.Get(context.Background(), "k", fetch)
	got[0] = 'X'
	again := c.Peek("k")
	if string(again) != "abc" {
		t.Fatalf("cache corrupted through Get result: %q", again)
	}
	again[1] = 'Y'
	if b := c.Get(context.Background(), "k", fetch); string(b) != "abc" {
		t.Errorf("cache corrupted through Peek result: %q", b)
	}

	src := []byte("put")
	c.Put("p", src)
	src[0] = 'Z'
	if b := c.Peek("p"); string(b) != "put" {
		t.Errorf("cache aliases the Put slice: %q", b)
	}
}

func TestInitials(t *testing.T) {
	tests := []struct{ name, want string }{
		{"Jane Doe", "JD"},
		{"jane", "J"},
		{"  mary   anne smith ", "MS"},
		{"", "?"},
		{"   ", "?"},
		{"élodie durand", "ÉD"},
	}
	for _, tt := range tests {
		if got := Initials(tt.name); got != tt.want {
			t.Errorf("Initials(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestGenerateFallbackDeterministic(t *testing.T) {
	a := GenerateFallback("Jane Doe", 64)
	b := GenerateFallback("Jane Doe", 64)
	if len(a) == 0 || !bytes.Equal(a, b) {
		t.Fatal("fallback not deterministic")
	}
	img, err := png.Decode(bytes.NewReader(a))
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Bounds().Dx(); got != 64 {
		t.Errorf("width = %d, want 64", got)
	}

	// The centre-top pixel sits inside the circle, above the initials.
	r, g, bl, _ := img.At(32, 3).RGBA()
	want := ColorFor("Jane Doe")
	if uint8(r>>8) != want.R || uint8(g>>8) != want.G || uint8(bl>>8) != want.B {
		t.Errorf("background = %d,%d,%d, want %v", r>>8, g>>8, bl>>8, want)
	}

	def, err := png.Decode(bytes.NewReader(GenerateFallback("", 0)))
	if err != nil {
		t.Fatal(err)
	}
	if got := def.Bounds().Dx(); got != DefaultAvatarSize {
		t.Errorf("default size = %d", got)
	}
}

type fakeAvatars struct {
	contacts map[string][]byte
	icons    map[string][]byte
	calls    atomic.Int32
}

func (f *fakeAvatars) ContactAvatar(ctx context.Context, address string) ([]byte, error) {
	f.calls.Add(1)
	return f.contacts[address], nil
}

func (f *fakeAvatars) ChatIcon(ctx context.Context, guid string) ([]byte, error) {
	f.calls.Add(1)
	b, ok := f.icons[guid]
	if !ok {
		return nil, &remote.Error{Kind: remote.KindStatus, Status: 404}
	}
	return b, nil
}

func TestAvatarsForChat(t *testing.T) {
	photo := GenerateFallback("photo", 20)
	src := &fakeAvatars{
		contacts: map[string][]byte{"+1555": photo},
		icons:    map[string][]byte{},
	}
	av := NewAvatars(newCache(t, WithValidator(ImageValidator)), src)
	ctx := context.Background()

	direct := &store.Chat{GUID: "d", Participants: []store.Handle{{RowID: 1, Address: "+1555"}}}
	if got := av.ForChat(ctx, direct, 40); !bytes.Equal(got, photo) {
		t.Error("direct chat did not use contact avatar")
	}
	av.ForChat(ctx, direct, 40)
	if src.calls.Load() != 1 {
		t.Errorf("remote calls = %d, want 1", src.calls.Load())
	}

	group := &store.Chat{GUID: "g", Style: store.StyleGroup, DisplayName: "Hiking Crew"}
	want := GenerateFallback("Hiking Crew", 40)
	if got := av.ForChat(ctx, group, 40); !bytes.Equal(got, want) {
		t.Error("group without icon did not fall back to initials")
	}
}

type fakeAttachments struct {
	info     map[string]*remote.AttachmentInfo
	content  map[string][]byte
	infoErr  error
	download atomic.Int32
}

func (f *fakeAttachments) AttachmentInfo(ctx context.Context, guid string) (*remote.AttachmentInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info[guid], nil
}

func (f *fakeAttachments) DownloadAttachment(ctx context.Context, guid string) ([]byte, error) {
	f.download.Add(1)
	return f.content[guid], nil
}

func TestAttachmentsMetadataAndExtension(t *testing.T) {
	pngBytes := GenerateFallback("x", 8)
	src := &fakeAttachments{
		info:    map[string]*remote.AttachmentInfo{"att-1": {GUID: "att-1", MimeType: "image/jpeg", TotalBytes: 2048}},
		content: map[string][]byte{"att-1": []byte("jpeg-ish"), "att-2": pngBytes},
	}
	att := NewAttachments(newCache(t), src, nil)
	ctx := context.Background()

	if got := att.Get(ctx, "att-1"); string(got) != "jpeg-ish" {
		t.Fatalf("get = %q", got)
	}
	att.Get(ctx, "att-1")
	if src.download.Load() != 1 {
		t.Errorf("downloads = %d, want 1", src.download.Load())
	}
	if m := att.Metadata("att-1"); m == nil || m.TotalBytes != 2048 {
		t.Errorf("metadata = %+v", m)
	}
	if ext := att.Extension("att-1", nil); ext != ".jpg" {
		t.Errorf("declared extension = %q, want .jpg", ext)
	}

	src.infoErr = errors.New("metadata down")
	got := att.Get(ctx, "att-2")
	if !bytes.Equal(got, pngBytes) {
		t.Fatal("download skipped after metadata failure")
	}
	if ext := att.Extension("att-2", got); ext != ".png" {
		t.Errorf("sniffed extension = %q, want .png", ext)
	}

	if err := att.Clear(); err != nil {
		t.Fatal(err)
	}
	if att.Metadata("att-1") != nil {
		t.Error("metadata survived clear")
	}
}

func TestAttachmentKind(t *testing.T) {
	tests := []struct{ mime, want string }{
		{"image/jpeg", KindImage},
		{"IMAGE/HEIC", KindImage},
		{"video/quicktime", KindVideo},
		{"audio/x-m4a", KindAudio},
		{"application/pdf", KindPDF},
		{"application/msword", KindDocument},
		{"text/plain", KindDocument},
		{"application/zip", KindFile},
		{"", KindFile},
	}
	for _, tt := range tests {
		if got := AttachmentKind(tt.mime); got != tt.want {
			t.Errorf("AttachmentKind(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestSizeString(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{-5, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{3 << 20, "3.0 MiB"},
	}
	for _, tt := range tests {
		if got := SizeString(tt.n); got != tt.want {
			t.Errorf("SizeString(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
