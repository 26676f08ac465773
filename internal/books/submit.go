package books

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/readaloud/client/internal/logging"
	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/progress"
	"github.com/readaloud/client/internal/storage"
)

// MaxUploadBytes caps a single PDF.
const MaxUploadBytes = 50 << 20

var pdfMagic = []byte("%PDF-")

// Uploader places a file in object storage and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, obj storage.Object) (storage.Uploaded, error)
}

// BookAPI starts a conversion for an uploaded PDF.
type BookAPI interface {
	SubmitBook(ctx context.Context, req models.SubmitBookRequest) (models.SubmitBookResponse, error)
}

// File is a local PDF waiting to be converted.
type File struct {
	Name            string
	Body            io.Reader
	Size            int64
	ContentType     string
	BackgroundAudio bool
	// Progress receives upload percentages.
	Progress func(percent int)
}

// Result is the outcome of submitting one file.
type Result struct {
	Name     string
	Response models.SubmitBookResponse
	Err      error
}

// Submitter uploads PDFs and asks the backend to convert them.
type Submitter struct {
	uploader Uploader
	api      BookAPI
	inv      progress.Invalidator
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewSubmitter wires the upload and submit steps together. inv may be nil.
func NewSubmitter(uploader Uploader, api BookAPI, inv progress.Invalidator, rec metrics.Recorder, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		uploader: uploader,
		api:      api,
		inv:      inv,
		metrics:  metrics.OrNop(rec),
		logger:   logger,
	}
}

// Submit validates f, uploads it, and submits the resulting URL. On success
// the book list and the user's credit balance are invalidated.
func (s *Submitter) Submit(ctx context.Context, f File) (resp models.SubmitBookResponse, err error) {
	ctx, span := logging.StartSpan(logging.WithLogger(ctx, s.logger), "books.submit")
	defer func() {
		span.Fail(err)
		span.End()
	}()
	ctx = logging.WithAttrs(ctx, slog.String("file", f.Name))
	logger := logging.FromContext(ctx)

	body, err := checkPDF(f)
	if err != nil {
		return models.SubmitBookResponse{}, err
	}

	uploaded, err := s.uploader.Upload(ctx, storage.Object{
		Name:        f.Name,
		Body:        body,
		ContentType: f.ContentType,
		Progress:    f.Progress,
	})
	if err != nil {
		logger.Warn("upload failed", "error", err)
		return models.SubmitBookResponse{}, fmt.Errorf("upload %s: %w", f.Name, err)
	}

	resp, err = s.api.SubmitBook(ctx, models.SubmitBookRequest{
		PDFURL:           uploaded.URL,
		OriginalFilename: f.Name,
		BackgroundAudio:  f.BackgroundAudio,
	})
	if err != nil {
		logger.Warn("submit failed", "key", uploaded.Key, "error", err)
		return models.SubmitBookResponse{}, fmt.Errorf("submit %s: %w", f.Name, err)
	}

	s.metrics.RecordJobSubmitted()
	if s.inv != nil {
		s.inv.Invalidate(TagBooks, TagUser)
	}
	logger.Info("book submitted", "bookId", resp.BookID)
	return resp, nil
}

// SubmitAll submits files with at most workers uploads in flight. Results are
// returned in input order.
func (s *Submitter) SubmitAll(ctx context.Context, files []File, workers int) []Result {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}

	results := make([]Result, len(files))
	jobs := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				resp, err := s.Submit(ctx, files[idx])
				results[idx] = Result{Name: files[idx].Name, Response: resp, Err: err}
			}
		}()
	}

	next := 0
feed:
	for ; next < len(files); next++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	for ; next < len(files); next++ {
		results[next] = Result{Name: files[next].Name, Err: ctx.Err()}
	}
	return results
}

// checkPDF accepts a .pdf name, a PDF content type, or a body starting with
// the PDF signature. The returned reader still yields the full body.
func checkPDF(f File) (io.Reader, error) {
	if f.Body == nil {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrNotPDF)
	}
	if f.Size > MaxUploadBytes {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrTooLarge)
	}

	if strings.EqualFold(filepath.Ext(f.Name), ".pdf") || strings.EqualFold(f.ContentType, storage.DefaultContentType) {
		return f.Body, nil
	}

	br := bufio.NewReader(f.Body)
	head, _ := br.Peek(len(pdfMagic))
	if !bytes.Equal(head, pdfMagic) {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrNotPDF)
	}
	return br, nil
}
