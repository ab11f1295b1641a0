package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"maxrelay/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDirectory struct {
	users     map[int64]*domain.User
	userErr   error
	videoURLs map[int64]string
	fileURLs  map[int64]string
	lookupErr error
}

func (f *fakeDirectory) GetUser(_ context.Context, id int64) (*domain.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.users[id], nil
}

func (f *fakeDirectory) VideoURL(_ context.Context, _, _, videoID int64) (string, error) {
	if f.lookupErr != nil {
		return "", &domain.LookupError{Op: "video_play", Err: f.lookupErr}
	}
	return f.videoURLs[videoID], nil
}

func (f *fakeDirectory) FileURL(_ context.Context, _, _, fileID int64) (string, error) {
	if f.lookupErr != nil {
		return "", &domain.LookupError{Op: "file_download", Err: f.lookupErr}
	}
	return f.fileURLs[fileID], nil
}

type fetchCall struct {
	URL      string
	Fallback string
}

// fakeFetcher serves bodies by URL; URLs in fail return a FetchError.
// Responses carry no filename hint, so the fallback is always used.
type fakeFetcher struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []fetchCall
}

func (f *fakeFetcher) Fetch(_ context.Context, url, fallback string) (domain.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{URL: url, Fallback: fallback})
	if f.fail[url] {
		return domain.Payload{}, &FetchError{URL: url, StatusCode: 404, Err: errors.New("not found")}
	}
	return domain.Payload{Bytes: []byte("body:" + url), Filename: fallback}, nil
}

type sinkCall struct {
	Method   string
	To       domain.Recipient
	Body     string
	Filename string
	Bytes    string
}

type fakeSink struct {
	mu    sync.Mutex
	err   error
	panic bool
	calls []sinkCall
}

func (s *fakeSink) record(c sinkCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic {
		panic("sink exploded")
	}
	s.calls = append(s.calls, c)
	if s.err != nil {
		return &domain.DeliveryError{Op: c.Method, Err: s.err}
	}
	return nil
}

func (s *fakeSink) SendText(_ context.Context, to domain.Recipient, body string) error {
	return s.record(sinkCall{Method: "text", To: to, Body: body})
}

func (s *fakeSink) SendPhoto(_ context.Context, to domain.Recipient, p domain.Payload, caption string) error {
	return s.record(sinkCall{Method: "photo", To: to, Body: caption, Filename: p.Filename, Bytes: string(p.Bytes)})
}

func (s *fakeSink) SendVideo(_ context.Context, to domain.Recipient, p domain.Payload, caption string) error {
	return s.record(sinkCall{Method: "video", To: to, Body: caption, Filename: p.Filename, Bytes: string(p.Bytes)})
}

func (s *fakeSink) SendDocument(_ context.Context, to domain.Recipient, p domain.Payload, caption string) error {
	return s.record(sinkCall{Method: "document", To: to, Body: caption, Filename: p.Filename, Bytes: string(p.Bytes)})
}

func (s *fakeSink) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Method
	}
	return out
}
