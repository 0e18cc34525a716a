package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/imageprep"
	"github.com/kangen/kangen/internal/layout"
	"github.com/kangen/kangen/internal/storage"
	"github.com/kangen/kangen/internal/validation"
)

// fakeOCR returns fixed fragments; behaviour can depend on image width.
type fakeOCR struct {
	frags   []layout.Fragment
	onWidth map[int]func()
	err     error
}

func (f *fakeOCR) Recognize(_ context.Context, img []byte) (*OCRResult, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	if fn, ok := f.onWidth[cfg.Width]; ok {
		fn()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &OCRResult{Fragments: f.frags, Engine: "fake"}, nil
}

type memStore struct {
	mu      sync.Mutex
	updates []*storage.JobUpdate
	entries map[string][]layout.Entry
}

func (m *memStore) UpdateJobStatus(_ context.Context, u *storage.JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	return nil
}

func (m *memStore) StoreEntries(_ context.Context, jobID string, entries []layout.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string][]layout.Entry{}
	}
	m.entries[jobID] = entries
	return nil
}

type flagAll struct{}

func (flagAll) Validate(e layout.Entry) (layout.Entry, validation.Report) {
	return e, validation.Report{Kanji: e.Kanji(), Valid: false}
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func sheetFragments() []layout.Fragment {
	return []layout.Fragment{
		{ID: "k", Text: "住", Box: layout.RectQuad(80, 80, 40, 40), Confidence: 0.9},
		{ID: "on", Text: "ジュウ", Box: layout.RectQuad(70, 120, 60, 20), Confidence: 0.9},
		{ID: "en", Text: "to live", Box: layout.RectQuad(180, 90, 100, 20), Confidence: 0.9},
	}
}

func newProcessor(t *testing.T, cfg ProcessorConfig) *SheetProcessor {
	t.Helper()
	p, err := NewSheetProcessor(&cfg)
	require.NoError(t, err)
	return p
}

func TestNewSheetProcessor_RequiresRecognizer(t *testing.T) {
	_, err := NewSheetProcessor(&ProcessorConfig{})
	assert.Error(t, err)
	_, err = NewSheetProcessor(nil)
	assert.Error(t, err)
}

func TestProcessSheet(t *testing.T) {
	store := &memStore{}
	p := newProcessor(t, ProcessorConfig{
		Recognizer: &fakeOCR{frags: sheetFragments()},
		Image:      imageprep.Options{MaxDimension: 3000, Grayscale: true},
		Validator:  flagAll{},
		Store:      store,
	})

	res, err := p.ProcessSheet(context.Background(), &ProcessRequest{
		JobID:       "job-1",
		Filename:    "sheet.png",
		ImageBuffer: pngOf(t, 400, 300),
	})
	require.NoError(t, err)

	require.Len(t, res.Entries, 1)
	assert.Equal(t, "住", res.Entries[0].Kanji())
	assert.Equal(t, []string{"ジュウ"}, res.Entries[0].Texts(layout.OnYomi))
	assert.Equal(t, 3, res.FragmentCount)
	assert.Equal(t, "fake", res.OCREngine)
	assert.Equal(t, imageprep.FormatPNG, res.Image.Format)
	require.Len(t, res.Reports, 1)
	assert.InDelta(t, res.Entries[0].Confidence, res.Confidence, 1e-9)

	assert.Len(t, store.entries["job-1"], 1)
}

func TestProcessSheet_NoJobIDSkipsStore(t *testing.T) {
	store := &memStore{}
	p := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{frags: sheetFragments()}, Store: store})

	_, err := p.ProcessSheet(context.Background(), &ProcessRequest{ImageBuffer: pngOf(t, 10, 10)})
	require.NoError(t, err)
	assert.Empty(t, store.entries)
}

func TestProcessSheet_Errors(t *testing.T) {
	t.Run("unsupported format", func(t *testing.T) {
		p := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{}})
		_, err := p.ProcessSheet(context.Background(), &ProcessRequest{JobID: "j", ImageBuffer: []byte("%PDF-1.4")})
		assert.ErrorIs(t, err, kgerrors.ErrUnsupportedFormat)
		assert.Equal(t, kgerrors.ErrorUnsupportedFormat, kgerrors.CodeOf(err))
	})

	t.Run("no source", func(t *testing.T) {
		p := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{}})
		_, err := p.ProcessSheet(context.Background(), &ProcessRequest{JobID: "j"})
		assert.ErrorIs(t, err, kgerrors.ErrInvalidInput)
	})

	t.Run("ocr failure", func(t *testing.T) {
		p := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{err: errors.New("engine exploded")}})
		_, err := p.ProcessSheet(context.Background(), &ProcessRequest{JobID: "j", ImageBuffer: pngOf(t, 10, 10)})
		assert.Equal(t, kgerrors.ErrorOCRFailed, kgerrors.CodeOf(err))
	})

	t.Run("no fragments is not an error", func(t *testing.T) {
		p := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{}})
		res, err := p.ProcessSheet(context.Background(), &ProcessRequest{ImageBuffer: pngOf(t, 10, 10)})
		require.NoError(t, err)
		assert.Empty(t, res.Entries)
		assert.Equal(t, kgerrors.ErrorNoAnchorsFound, res.Analysis.Diagnostics[0].Code)
	})
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	ocr := &fakeOCR{
		frags:   sheetFragments(),
		onWidth: map[int]func(){13: func() { panic("boom") }},
	}
	p := newProcessor(t, ProcessorConfig{Recognizer: ocr, Concurrency: 2})

	reqs := []*ProcessRequest{
		{Filename: "a.png", ImageBuffer: pngOf(t, 20, 20)},
		{Filename: "panic.png", ImageBuffer: pngOf(t, 13, 13)},
		{Filename: "bad.pdf", ImageBuffer: []byte("%PDF-1.4")},
		{Filename: "d.png", ImageBuffer: pngOf(t, 30, 30)},
	}
	results := p.ProcessBatch(context.Background(), reqs)

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Same(t, reqs[i], r.Request)
	}
	assert.NoError(t, results[0].Err)
	assert.ErrorContains(t, results[1].Err, "panic")
	assert.Nil(t, results[1].Result)
	assert.ErrorIs(t, results[2].Err, kgerrors.ErrUnsupportedFormat)
	require.NoError(t, results[3].Err)
	assert.Len(t, results[3].Result.Entries, 1)
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	p := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := p.ProcessBatch(ctx, []*ProcessRequest{{ImageBuffer: pngOf(t, 5, 5)}})
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestLoadFile(t *testing.T) {
	data := pngOf(t, 8, 8)
	path := filepath.Join(t.TempDir(), "sheet.png")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	p := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{}, Image: imageprep.Options{MaxFileSize: 1 << 20}})

	got, err := p.loadFile(context.Background(), &ProcessRequest{ImagePath: path})
	require.NoError(t, err)
	assert.Equal(t, data, got)

	p.config.Image.MaxFileSize = 4
	_, err = p.loadFile(context.Background(), &ProcessRequest{ImagePath: path})
	assert.ErrorIs(t, err, kgerrors.ErrInvalidInput)
}

func TestLoadFile_Download(t *testing.T) {
	data := pngOf(t, 8, 8)
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sheet.png":
			w.Write(data)
		case "/flaky.png":
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{}})

	got, err := p.loadFile(context.Background(), &ProcessRequest{ImageURL: srv.URL + "/sheet.png"})
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = p.loadFile(context.Background(), &ProcessRequest{ImageURL: srv.URL + "/flaky.png"})
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 2, calls)

	_, err = p.loadFile(context.Background(), &ProcessRequest{ImageURL: srv.URL + "/missing.png"})
	assert.ErrorContains(t, err, "HTTP 404")
}

func TestUpdateJobStatus(t *testing.T) {
	store := &memStore{}
	p := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{}, Store: store})

	err := p.UpdateJobStatus(context.Background(), "job-1", storage.StatusFailed, 100, map[string]interface{}{
		"filename":       "sheet.png",
		"confidence":     0.8,
		"processingTime": int64(1200),
		"entryCount":     3,
		"error":          "timeout",
		"errorCode":      string(kgerrors.ErrorProcessingTimeout),
	})
	require.NoError(t, err)

	require.Len(t, store.updates, 1)
	u := store.updates[0]
	assert.Equal(t, "job-1", u.JobID)
	assert.Equal(t, "sheet.png", u.Filename)
	assert.Equal(t, 0.8, u.Confidence)
	assert.Equal(t, int64(1200), u.ProcessingTimeMs)
	assert.Equal(t, 3, u.EntryCount)
	assert.Equal(t, "PROCESSING_TIMEOUT", u.ErrorCode)
	assert.Equal(t, "timeout", u.ErrorMessage)

	noStore := newProcessor(t, ProcessorConfig{Recognizer: &fakeOCR{}})
	assert.NoError(t, noStore.UpdateJobStatus(context.Background(), "job-1", storage.StatusCompleted, 100, nil))
}
