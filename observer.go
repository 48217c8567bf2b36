package doc2pdf

import "time"

// Observer receives notifications about compilations. Implementations must
// be safe for concurrent use; calls are made synchronously on the request path.
type Observer interface {
	// CompileStarted is called once a request passed validation.
	CompileStarted(kind SourceKind)

	// CompileFinished is called exactly once per started request.
	// err is nil on success.
	CompileFinished(kind SourceKind, engine string, d time.Duration, err error)

	// CleanupFailed is called for every artifact that could not be removed.
	CleanupFailed(path string, err error)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) CompileStarted(SourceKind)                                {}
func (NopObserver) CompileFinished(SourceKind, string, time.Duration, error) {}
func (NopObserver) CleanupFailed(string, error)                              {}

var _ Observer = NopObserver{}
