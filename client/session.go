package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"
)

// Cache key prefixes.
const (
	compileKeyPrefix = "compile:"
	convertKeyPrefix = "convert:"
)

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	cache       *ResultCache
	now         func() time.Time
	minInterval time.Duration
	onPDF       func([]byte)
}

// WithCache sets the result cache. Defaults to a fresh one-hour cache.
func WithCache(c *ResultCache) SessionOption {
	return func(s *sessionConfig) {
		s.cache = c
	}
}

// WithSessionClock sets the time source of the debounce and of the
// default cache.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *sessionConfig) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDebounce sets the minimum interval between accepted submissions.
func WithDebounce(d time.Duration) SessionOption {
	return func(s *sessionConfig) {
		s.minInterval = d
	}
}

// WithOnPDF sets a hook receiving every PDF that became current,
// from the server or from the cache.
func WithOnPDF(fn func([]byte)) SessionOption {
	return func(s *sessionConfig) {
		s.onPDF = fn
	}
}

// Session binds a Client to one coordinator per purpose and a shared
// result cache. Compile and ConvertSaved share the "pdf" coordinator, so
// starting either supersedes the other; Save has its own.
type Session struct {
	client *Client
	pdf    *Coordinator[[]byte]
	save   *Coordinator[string]
	cache  *ResultCache
}

// NewSession creates a Session over c.
func NewSession(c *Client, opts ...SessionOption) *Session {
	cfg := sessionConfig{now: time.Now, minInterval: DefaultMinInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cache == nil {
		cfg.cache = NewResultCache(WithClock(cfg.now))
	}

	coordOpts := []CoordinatorOption{
		WithMinInterval(cfg.minInterval),
		WithCoordinatorClock(cfg.now),
	}
	pdfOpts := coordOpts
	if cfg.onPDF != nil {
		pdfOpts = append(slices.Clone(coordOpts), WithApply(cfg.onPDF))
	}

	return &Session{
		client: c,
		pdf:    NewCoordinator[[]byte](pdfOpts...),
		save:   NewCoordinator[string](coordOpts...),
		cache:  cfg.cache,
	}
}

// Cache returns the session's result cache.
func (s *Session) Cache() *ResultCache { return s.cache }

// Compile returns the PDF for markup, from the cache when a fresh entry
// exists. Otherwise the request goes through the debounced coordinator
// and may fail with ErrTooSoon or ErrRequestCancelled.
func (s *Session) Compile(ctx context.Context, markup string, opts map[string]string) ([]byte, error) {
	key := compileKeyPrefix + contentKey(markup, opts)
	return s.cachedPDF(ctx, key, func(ctx context.Context) ([]byte, error) {
		return s.client.Compile(ctx, markup, opts)
	})
}

// ConvertSaved returns the PDF of a saved document, cached by id and options.
func (s *Session) ConvertSaved(ctx context.Context, id string, opts map[string]string) ([]byte, error) {
	key := convertKeyPrefix + id + ";" + canonicalOptions(opts)
	return s.cachedPDF(ctx, key, func(ctx context.Context) ([]byte, error) {
		return s.client.Convert(ctx, id, opts)
	})
}

// Save uploads a document through the save coordinator and returns its id.
func (s *Session) Save(ctx context.Context, filename string, content []byte) (string, error) {
	return s.save.TrySubmit(ctx, func(ctx context.Context) (string, error) {
		return s.client.Save(ctx, filename, content)
	})
}

// IsProcessing reports whether any request of the session is in flight.
func (s *Session) IsProcessing() bool {
	return s.pdf.IsProcessing() || s.save.IsProcessing()
}

// Cancel aborts every in-flight request of the session.
func (s *Session) Cancel() {
	s.pdf.Cancel()
	s.save.Cancel()
}

func (s *Session) cachedPDF(ctx context.Context, key string, call Call[[]byte]) ([]byte, error) {
	if hit, ok := s.cache.Get(key); ok {
		// A hit is a submission like any other: it supersedes the request
		// in flight and is applied in order. It skips the debounce.
		payload := hit.Payload
		return s.pdf.Submit(ctx, func(context.Context) ([]byte, error) {
			return payload, nil
		})
	}
	pdf, err := s.pdf.TrySubmit(ctx, call)
	if err != nil {
		return nil, err
	}
	s.cache.Put(key, pdf)
	return pdf, nil
}

// contentKey hashes markup and options into a fixed-size key.
func contentKey(markup string, opts map[string]string) string {
	h := sha256.New()
	h.Write([]byte(markup))
	h.Write([]byte{0})
	h.Write([]byte(canonicalOptions(opts)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalOptions renders opts with sorted keys.
func canonicalOptions(opts map[string]string) string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(opts[k])
	}
	return b.String()
}
