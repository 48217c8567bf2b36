package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alnah/go-doc2pdf/client"
)

func newTestSession(t *testing.T, opts ...client.SessionOption) (*client.Session, *fakeAPI, *fakeClock) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	clk := newFakeClock()
	c := client.NewClient(srv.URL, client.WithHTTPClient(srv.Client()))
	opts = append([]client.SessionOption{client.WithSessionClock(clk.Now)}, opts...)
	return client.NewSession(c, opts...), api, clk
}

func TestSession_CompileCaches(t *testing.T) {
	t.Parallel()

	s, api, clk := newTestSession(t)
	ctx := context.Background()
	markup := `\documentclass{article}\begin{document}Hello\end{document}`

	pdf, err := s.Compile(ctx, markup, nil)
	require.NoError(t, err)
	assert.Equal(t, testPDF, pdf)

	// Cache hit: no request, no debounce.
	pdf, err = s.Compile(ctx, markup, nil)
	require.NoError(t, err)
	assert.Equal(t, testPDF, pdf)
	assert.EqualValues(t, 1, api.compiles.Load())

	// Past the TTL the entry is gone and the server is asked again.
	clk.Advance(time.Hour + time.Second)
	_, err = s.Compile(ctx, markup, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.compiles.Load())
}

func TestSession_OptionsChangeKey(t *testing.T) {
	t.Parallel()

	s, api, clk := newTestSession(t)
	ctx := context.Background()

	_, err := s.Compile(ctx, "x", map[string]string{"margin": "1in", "pageSize": "a4"})
	require.NoError(t, err)
	clk.Advance(2 * time.Second)

	// Same options in another order: cached.
	_, err = s.Compile(ctx, "x", map[string]string{"pageSize": "a4", "margin": "1in"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, api.compiles.Load())

	_, err = s.Compile(ctx, "x", map[string]string{"pageSize": "letter", "margin": "1in"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.compiles.Load())
}

func TestSession_Debounce(t *testing.T) {
	t.Parallel()

	s, api, clk := newTestSession(t)
	ctx := context.Background()

	_, err := s.Compile(ctx, "first", nil)
	require.NoError(t, err)

	_, err = s.Compile(ctx, "second", nil)
	assert.True(t, errors.Is(err, client.ErrTooSoon), "error = %v", err)
	assert.EqualValues(t, 1, api.compiles.Load())

	clk.Advance(time.Second)
	_, err = s.Compile(ctx, "second", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.compiles.Load())
}

func TestSession_FailuresAreNotCached(t *testing.T) {
	t.Parallel()

	s, api, clk := newTestSession(t, client.WithDebounce(0))
	ctx := context.Background()

	_, err := s.Compile(ctx, `\bad`, nil)
	var re *client.RemoteError
	require.ErrorAs(t, err, &re)

	clk.Advance(time.Second)
	_, err = s.Compile(ctx, `\bad`, nil)
	require.Error(t, err)
	assert.EqualValues(t, 2, api.compiles.Load())
	assert.Zero(t, s.Cache().Len())
}

func TestSession_SaveAndConvert(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var shown [][]byte
	s, api, _ := newTestSession(t, client.WithDebounce(0), client.WithOnPDF(func(pdf []byte) {
		mu.Lock()
		defer mu.Unlock()
		shown = append(shown, pdf)
	}))
	ctx := context.Background()

	id, err := s.Save(ctx, "cv.docx", []byte("PK\x03\x04"))
	require.NoError(t, err)

	opts := map[string]string{"preserveFormatting": "false"}
	_, err = s.ConvertSaved(ctx, id, opts)
	require.NoError(t, err)
	_, err = s.ConvertSaved(ctx, id, opts)
	require.NoError(t, err)

	assert.EqualValues(t, 1, api.converts.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, shown, 2, "server result and cache hit are both shown")
	assert.False(t, s.IsProcessing())
}

func TestSession_CacheHitSupersedesInFlight(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var shown []string
	s, api, _ := newTestSession(t, client.WithDebounce(0), client.WithOnPDF(func(pdf []byte) {
		mu.Lock()
		defer mu.Unlock()
		shown = append(shown, string(pdf))
	}))
	started, release := api.holdSlow(t)
	ctx := context.Background()

	_, err := s.Compile(ctx, "cached", nil)
	require.NoError(t, err)

	slowErr := make(chan error, 1)
	go func() {
		_, err := s.Compile(ctx, "slow", nil)
		slowErr <- err
	}()
	<-started

	// The hit is the newest submission; the slow compile must not land
	// after it.
	pdf, err := s.Compile(ctx, "cached", nil)
	require.NoError(t, err)
	assert.Equal(t, testPDF, pdf)

	release()
	err = <-slowErr
	assert.True(t, client.IsCancelled(err), "error = %v", err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{string(testPDF), string(testPDF)}, shown)
	assert.Equal(t, 1, s.Cache().Len())
	assert.False(t, s.IsProcessing())
}

func TestSession_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("idle", func(t *testing.T) {
		t.Parallel()

		s, _, _ := newTestSession(t)

		s.Cancel()
		assert.False(t, s.IsProcessing())
	})

	t.Run("in-flight compile", func(t *testing.T) {
		t.Parallel()

		s, api, _ := newTestSession(t)
		started, _ := api.holdSlow(t)

		errc := make(chan error, 1)
		go func() {
			_, err := s.Compile(context.Background(), "slow", nil)
			errc <- err
		}()
		<-started
		require.True(t, s.IsProcessing())

		s.Cancel()
		err := <-errc
		assert.True(t, client.IsCancelled(err), "error = %v", err)
		assert.False(t, s.IsProcessing())
		assert.Zero(t, s.Cache().Len(), "cancelled result must not be cached")
	})
}
