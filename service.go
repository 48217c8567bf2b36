package doc2pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/alnah/go-doc2pdf/internal/fileutil"
)

// DefaultTimeout bounds every compiler invocation when WithTimeout is not used.
const DefaultTimeout = 60 * time.Second

// tracerName identifies spans emitted by the service.
const tracerName = "github.com/alnah/go-doc2pdf"

// Input file extensions per source kind.
const (
	markupExt = ".tex"
	htmlExt   = ".html"
)

// Option configures a Service.
type Option func(*Service)

// WithTimeout sets the maximum duration of one compiler invocation.
// Panics if d <= 0: a compilation must never wait forever.
func WithTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("doc2pdf: WithTimeout duration must be positive")
	}
	return func(s *Service) {
		s.timeout = d
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver sets the observer notified of every compilation.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithMaxConcurrent caps simultaneous compilations. Zero sizes the limit
// from GOMAXPROCS (see ResolveConcurrency).
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		s.maxConcurrent = n
	}
}

// WithCompiler registers c for its engine, replacing the default one.
func WithCompiler(c Compiler) Option {
	return func(s *Service) {
		if c != nil {
			s.compilers[c.Engine()] = c
		}
	}
}

// WithRecheck controls whether compiler availability is checked again on
// every request. When false, the result of the startup check is reused.
func WithRecheck(recheck bool) Option {
	return func(s *Service) {
		s.recheck = recheck
	}
}

// WithDocuments enables Save and ConvertSaved.
func WithDocuments(d *DocumentStore) Option {
	return func(s *Service) {
		s.documents = d
	}
}

// WithTracer sets the tracer for compile spans. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Service compiles documents to PDF with external compilers.
// It is safe for concurrent use; the only shared state is the artifact
// store, whose paths never collide across requests, and the limiter.
type Service struct {
	store         *ArtifactStore
	documents     *DocumentStore
	compilers     map[string]Compiler
	startup       map[string]error
	limiter       *Limiter
	timeout       time.Duration
	maxConcurrent int
	recheck       bool
	logger        *zap.Logger
	observer      Observer
	tracer        trace.Tracer
	closed        atomic.Bool
}

// New creates a Service writing its artifacts to store. Compiler
// availability is checked once here; missing compilers are logged and
// reported per request, not treated as fatal.
func New(store *ArtifactStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil artifact store", ErrInvalidInput)
	}

	s := &Service{
		store: store,
		compilers: map[string]Compiler{
			EngineLatex:  NewCompilerRunner(LatexToolchain("")),
			EngineOffice: NewCompilerRunner(OfficeToolchain("")),
			EnginePandoc: NewCompilerRunner(PandocToolchain("", "")),
			EngineHTML:   NewHTMLCompiler(BrowserConfig{}),
		},
		timeout:  DefaultTimeout,
		recheck:  true,
		logger:   zap.NewNop(),
		observer: NopObserver{},
		tracer:   otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.limiter = NewLimiter(s.maxConcurrent)
	s.startup = s.Health()
	for _, engine := range s.Engines() {
		if err := s.startup[engine]; err != nil {
			s.logger.Warn("compiler unavailable", zap.String("engine", engine), zap.Error(err))
		}
	}
	s.logger.Info("compilation service ready",
		zap.Int("max_concurrent", s.limiter.Size()),
		zap.Duration("timeout", s.timeout))

	return s, nil
}

// Engines returns the registered engine names, sorted.
func (s *Service) Engines() []string {
	engines := make([]string, 0, len(s.compilers))
	for name := range s.compilers {
		engines = append(engines, name)
	}
	slices.Sort(engines)
	return engines
}

// Health checks every compiler now. A nil value means available.
func (s *Service) Health() map[string]error {
	status := make(map[string]error, len(s.compilers))
	for name, c := range s.compilers {
		status[name] = c.Check()
	}
	return status
}

// Limiter returns the concurrency limiter.
func (s *Service) Limiter() *Limiter { return s.limiter }

// Compile runs one request through Received, InputWritten, Compiling,
// OutputVerified and Cleaned. Every artifact it creates is removed before
// it returns, on success, failure or panic. Failures are *CompileError.
func (s *Service) Compile(ctx context.Context, req Request) (res *Result, err error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	stage := StageReceived

	ctx, span := s.tracer.Start(ctx, "doc2pdf.Compile", trace.WithAttributes(
		attribute.String("request_id", id),
		attribute.String("kind", string(req.Kind)),
	))
	defer span.End()

	log := s.logger.With(zap.String("request_id", id), zap.String("kind", string(req.Kind)))
	advance := func(next Stage) {
		stage = next
		span.AddEvent(string(next))
		log.Debug("stage reached", zap.String("stage", string(next)))
	}

	compiler, ext, err := s.route(id, req)
	if err != nil {
		ce := newCompileError(id, stage, err)
		span.RecordError(ce)
		span.SetStatus(codes.Error, ce.Message)
		return nil, ce
	}
	engine := compiler.Engine()
	span.SetAttributes(attribute.String("engine", engine))

	start := time.Now()
	s.observer.CompileStarted(req.Kind)
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = newCompileError(id, stage, fmt.Errorf("internal error: %v", r))
		}
		elapsed := time.Since(start)
		s.observer.CompileFinished(req.Kind, engine, elapsed, err)
		if err != nil {
			var ce *CompileError
			msg := err.Error()
			if errors.As(err, &ce) {
				msg = ce.Message
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, msg)
			log.Warn("compilation failed",
				zap.String("engine", engine),
				zap.String("stage", string(stage)),
				zap.Duration("duration", elapsed),
				zap.Error(err))
			return
		}
		span.SetStatus(codes.Ok, "")
		log.Info("compilation finished",
			zap.String("engine", engine),
			zap.Int("size", len(res.PDF)),
			zap.Duration("duration", elapsed))
	}()

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, newCompileError(id, stage, err)
	}
	defer s.limiter.Release()

	if err := s.checkCompiler(compiler); err != nil {
		return nil, newCompileError(id, stage, err)
	}

	set, err := s.store.Allocate(id, ext)
	if err != nil {
		return nil, newCompileError(id, stage, err)
	}
	defer func() {
		s.store.Cleanup(set)
		span.AddEvent(string(StageCleaned))
	}()

	if err := s.store.Write(set.InputPath, req.Content); err != nil {
		return nil, newCompileError(id, stage, err)
	}
	advance(StageInputWritten)

	advance(StageCompiling)
	outcome, err := compiler.Run(ctx, set, req.Options, s.timeout)
	if err != nil {
		// A compiler that ran and produced nothing usable is a failed
		// compilation; the execution error stays reachable for errors.As.
		var execErr *CompilerExecutionError
		if errors.As(err, &execErr) {
			err = fmt.Errorf("%w: %w", ErrCompilationFailed, err)
		}
		ce := newCompileError(id, stage, err)
		if ce.Detail != "" {
			ce.Message = failureMessage(ce.Detail)
		}
		return nil, ce
	}
	if outcome.MarkerMatched && !outcome.ExitIndicatesSuccess {
		log.Warn("compiler exited with an error but reported output",
			zap.String("engine", engine),
			zap.Int("exit_code", outcome.ExitCode))
	}

	// Exit status and marker can both lie; only the file counts.
	if !fileutil.NonEmptyFile(set.OutputPath) {
		detail := outcome.Diagnostics()
		return nil, &CompileError{
			RequestID: id,
			Stage:     stage,
			Message:   failureMessage(detail),
			Detail:    detail,
			Err:       ErrCompilationFailed,
		}
	}
	advance(StageOutputVerified)

	pdf, err := s.store.Read(set.OutputPath)
	if err != nil {
		return nil, newCompileError(id, stage, err)
	}

	return &Result{
		RequestID: id,
		PDF:       pdf,
		Engine:    engine,
		Duration:  time.Since(start),
	}, nil
}

// Save persists an uploaded binary document for a later ConvertSaved.
func (s *Service) Save(ctx context.Context, filename string, content []byte) (*SavedDocument, error) {
	if s.closed.Load() {
		return nil, ErrServiceUnavailable
	}
	if s.documents == nil {
		return nil, fmt.Errorf("%w: no document store", ErrServiceUnavailable)
	}
	return s.documents.Save(ctx, filename, content)
}

// ConvertSaved converts a document stored by Save. Each call compiles under
// a fresh request identifier, so concurrent conversions of the same
// document never share artifacts.
func (s *Service) ConvertSaved(ctx context.Context, id string, opts Options) (*Result, error) {
	if s.closed.Load() {
		return nil, ErrServiceUnavailable
	}
	if s.documents == nil {
		return nil, fmt.Errorf("%w: no document store", ErrServiceUnavailable)
	}
	doc, err := s.documents.Load(id)
	if err != nil {
		return nil, err
	}
	content, err := s.documents.Read(doc)
	if err != nil {
		return nil, err
	}
	return s.Compile(ctx, Request{
		Kind:     KindBinaryDocument,
		Content:  content,
		Filename: doc.ID + doc.Ext,
		Options:  opts,
	})
}

// Close stops accepting requests and releases compiler resources.
// Compilations already running finish normally.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, c := range s.compilers {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// route validates req and selects its compiler and input extension.
func (s *Service) route(id string, req Request) (Compiler, string, error) {
	if s.closed.Load() {
		return nil, "", ErrServiceUnavailable
	}
	if err := fileutil.ValidateName(id); err != nil {
		return nil, "", fmt.Errorf("%w: request id: %v", ErrInvalidInput, err)
	}
	if len(req.Content) == 0 {
		return nil, "", fmt.Errorf("%w: empty content", ErrInvalidInput)
	}

	var engine, ext string
	switch req.Kind {
	case KindMarkup:
		engine, ext = EngineLatex, markupExt
	case KindHTML:
		engine, ext = EngineHTML, htmlExt
	case KindBinaryDocument:
		docExt, err := documentExt(req.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		engine, ext = EnginePandoc, docExt
		if req.Options.PreservesFormatting() {
			engine = EngineOffice
		}
	default:
		return nil, "", fmt.Errorf("%w: unknown source kind %q", ErrInvalidInput, req.Kind)
	}

	c, ok := s.compilers[engine]
	if !ok {
		return nil, "", fmt.Errorf("%w: no %s compiler registered", ErrCompilerUnavailable, engine)
	}
	return c, ext, nil
}

// checkCompiler reports whether c can run, live or from the startup check.
func (s *Service) checkCompiler(c Compiler) error {
	if s.recheck {
		return c.Check()
	}
	return s.startup[c.Engine()]
}
