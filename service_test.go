package doc2pdf

// Notes:
// - Service.Compile is tested with fakeCompiler so no real compiler runs.
// - Every test that reaches allocation asserts that both artifact areas are
//   empty afterwards, whatever the outcome.
// - Tracing uses the global no-op provider.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeCompiler implements Compiler for testing. By default it copies the
// input behind a PDF header into the output path.
type fakeCompiler struct {
	engine   string
	checkErr error
	run      func(ctx context.Context, set *ArtifactSet, opts Options) (*RunOutcome, error)
	calls    atomic.Int64
	closed   atomic.Bool
	lastOpts atomic.Pointer[Options]
}

func newFakeCompiler(engine string) *fakeCompiler {
	return &fakeCompiler{engine: engine}
}

func (f *fakeCompiler) Engine() string { return f.engine }
func (f *fakeCompiler) Check() error   { return f.checkErr }

func (f *fakeCompiler) Run(ctx context.Context, set *ArtifactSet, opts Options, timeout time.Duration) (*RunOutcome, error) {
	f.calls.Add(1)
	f.lastOpts.Store(&opts)
	if f.run != nil {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return f.run(ctx, set, opts)
	}
	return copyToOutput(set)
}

func (f *fakeCompiler) Close() error {
	f.closed.Store(true)
	return nil
}

func copyToOutput(set *ArtifactSet) (*RunOutcome, error) {
	data, err := os.ReadFile(set.InputPath)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(set.OutputPath, append([]byte("%PDF "), data...), 0o644); err != nil {
		return nil, err
	}
	return &RunOutcome{ExitIndicatesSuccess: true}, nil
}

type testService struct {
	*Service
	store  *ArtifactStore
	latex  *fakeCompiler
	office *fakeCompiler
	pandoc *fakeCompiler
	html   *fakeCompiler
	obs    *recordingObserver
}

func newTestService(t *testing.T, opts ...Option) *testService {
	t.Helper()
	ts := &testService{
		store:  newTestStore(t),
		latex:  newFakeCompiler(EngineLatex),
		office: newFakeCompiler(EngineOffice),
		pandoc: newFakeCompiler(EnginePandoc),
		html:   newFakeCompiler(EngineHTML),
		obs:    &recordingObserver{},
	}
	docs, err := NewDocumentStore(ts.store.Root())
	if err != nil {
		t.Fatal(err)
	}
	base := []Option{
		WithCompiler(ts.latex),
		WithCompiler(ts.office),
		WithCompiler(ts.pandoc),
		WithCompiler(ts.html),
		WithObserver(ts.obs),
		WithDocuments(docs),
		WithTimeout(time.Second),
	}
	svc, err := New(ts.store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	ts.Service = svc
	return ts
}

// assertNoArtifacts fails if any file is left in the artifact areas.
func assertNoArtifacts(t *testing.T, store *ArtifactStore) {
	t.Helper()
	for _, dir := range []string{inputDirName, outputDirName} {
		entries, err := os.ReadDir(filepath.Join(store.Root(), dir))
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			t.Errorf("leaked artifact %s/%s", dir, e.Name())
		}
	}
}

func markupRequest(body string) Request {
	return Request{Kind: KindMarkup, Content: []byte(body)}
}

// ---------------------------------------------------------------------------
// TestNew - Construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("New(nil) error = %v, want ErrInvalidInput", err)
	}

	ts := newTestService(t, WithMaxConcurrent(3))
	if ts.Limiter().Size() != 3 {
		t.Errorf("limiter size = %d, want 3", ts.Limiter().Size())
	}
	want := []string{EngineHTML, EngineLatex, EngineOffice, EnginePandoc}
	if got := ts.Engines(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Engines() = %v, want %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// TestService_Compile - Success Path
// ---------------------------------------------------------------------------

func TestService_Compile(t *testing.T) {
	t.Parallel()

	ts := newTestService(t)
	res, err := ts.Compile(context.Background(), markupRequest(`\documentclass{article}`))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if string(res.PDF) != `%PDF \documentclass{article}` {
		t.Errorf("PDF = %q", res.PDF)
	}
	if res.Engine != EngineLatex {
		t.Errorf("Engine = %q, want %q", res.Engine, EngineLatex)
	}
	if res.RequestID == "" {
		t.Error("RequestID is empty")
	}
	if res.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", res.Duration)
	}
	assertNoArtifacts(t, ts.store)

	if len(ts.obs.started) != 1 || len(ts.obs.finished) != 1 || ts.obs.finished[0] != nil {
		t.Errorf("observer started=%v finished=%v", ts.obs.started, ts.obs.finished)
	}
}

func TestService_Compile_KeepsRequestID(t *testing.T) {
	t.Parallel()

	ts := newTestService(t)
	req := markupRequest("x")
	req.ID = "client-chosen"

	res, err := ts.Compile(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.RequestID != "client-chosen" {
		t.Errorf("RequestID = %q, want %q", res.RequestID, "client-chosen")
	}
}

// ---------------------------------------------------------------------------
// TestService_Compile_Routing - Engine Selection
// ---------------------------------------------------------------------------

func TestService_Compile_Routing(t *testing.T) {
	t.Parallel()

	noPreserve := false

	tests := []struct {
		name       string
		req        Request
		wantEngine string
	}{
		{
			name:       "markup uses latex",
			req:        markupRequest("x"),
			wantEngine: EngineLatex,
		},
		{
			name:       "html uses browser",
			req:        Request{Kind: KindHTML, Content: []byte("<p>x</p>")},
			wantEngine: EngineHTML,
		},
		{
			name:       "binary document preserves formatting by default",
			req:        Request{Kind: KindBinaryDocument, Content: []byte("PK"), Filename: "a.docx"},
			wantEngine: EngineOffice,
		},
		{
			name: "binary document without preservation uses pandoc",
			req: Request{
				Kind: KindBinaryDocument, Content: []byte("PK"), Filename: "a.odt",
				Options: Options{PreserveFormatting: &noPreserve, PageSize: PageSizeA4},
			},
			wantEngine: EnginePandoc,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestService(t)
			res, err := ts.Compile(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if res.Engine != tt.wantEngine {
				t.Errorf("Engine = %q, want %q", res.Engine, tt.wantEngine)
			}
			if tt.wantEngine == EnginePandoc {
				if got := ts.pandoc.lastOpts.Load(); got == nil || got.PageSize != PageSizeA4 {
					t.Errorf("options not passed through: %+v", got)
				}
			}
			assertNoArtifacts(t, ts.store)
		})
	}
}

// ---------------------------------------------------------------------------
// TestService_Compile_InvalidInput - Rejected Before Any File Is Written
// ---------------------------------------------------------------------------

func TestService_Compile_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"empty content", Request{Kind: KindMarkup}, ErrInvalidInput},
		{"unknown kind", Request{Kind: "markdown", Content: []byte("# x")}, ErrInvalidInput},
		{"traversal id", Request{ID: "../x", Kind: KindMarkup, Content: []byte("x")}, ErrInvalidInput},
		{"unsupported upload", Request{Kind: KindBinaryDocument, Content: []byte("x"), Filename: "a.pdf"}, ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestService(t)
			_, err := ts.Compile(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Compile() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Compile() error = %v, want ErrInvalidInput", err)
			}
			var ce *CompileError
			if !errors.As(err, &ce) || ce.Stage != StageReceived {
				t.Errorf("error = %#v, want *CompileError at %s", err, StageReceived)
			}
			if ts.latex.calls.Load()+ts.office.calls.Load() != 0 {
				t.Error("compiler invoked for invalid input")
			}
			if len(ts.obs.started) != 0 {
				t.Error("observer notified for rejected input")
			}
			assertNoArtifacts(t, ts.store)
		})
	}
}

// ---------------------------------------------------------------------------
// TestService_Compile_Failures - Failure Classification and Cleanup
// ---------------------------------------------------------------------------

func TestService_Compile_Failures(t *testing.T) {
	t.Parallel()

	texLog := "This is pdfTeX\n./id.tex:3: Undefined control sequence.\nl.3 \\foo\n"

	tests := []struct {
		name        string
		run         func(ctx context.Context, set *ArtifactSet, opts Options) (*RunOutcome, error)
		checkErr    error
		wantErr     error
		wantMessage string
		wantDetail  bool
		wantStage   Stage
	}{
		{
			name:      "compiler unavailable",
			checkErr:  fmt.Errorf("%w: pdflatex", ErrCompilerUnavailable),
			wantErr:   ErrCompilerUnavailable,
			wantStage: StageReceived,
		},
		{
			name: "execution error extracts diagnostic",
			run: func(context.Context, *ArtifactSet, Options) (*RunOutcome, error) {
				return nil, &CompilerExecutionError{Tool: "pdflatex", ExitCode: 1, Stdout: texLog}
			},
			wantErr:     ErrCompilationFailed,
			wantMessage: "./id.tex:3: Undefined control sequence.",
			wantDetail:  true,
			wantStage:   StageCompiling,
		},
		{
			name: "execution error without diagnostic uses generic message",
			run: func(context.Context, *ArtifactSet, Options) (*RunOutcome, error) {
				return nil, &CompilerExecutionError{Tool: "soffice", ExitCode: 77, Stderr: "segfault"}
			},
			wantErr:     ErrCompilationFailed,
			wantMessage: genericFailureMessage,
			wantDetail:  true,
			wantStage:   StageCompiling,
		},
		{
			name: "success without output",
			run: func(context.Context, *ArtifactSet, Options) (*RunOutcome, error) {
				return &RunOutcome{Stdout: texLog, MarkerMatched: true}, nil
			},
			wantErr:     ErrCompilationFailed,
			wantMessage: "./id.tex:3: Undefined control sequence.",
			wantDetail:  true,
			wantStage:   StageCompiling,
		},
		{
			name: "empty output file",
			run: func(_ context.Context, set *ArtifactSet, _ Options) (*RunOutcome, error) {
				return &RunOutcome{ExitIndicatesSuccess: true}, os.WriteFile(set.OutputPath, nil, 0o644)
			},
			wantErr:     ErrCompilationFailed,
			wantMessage: genericFailureMessage,
			wantStage:   StageCompiling,
		},
		{
			name: "timeout",
			run: func(ctx context.Context, set *ArtifactSet, _ Options) (*RunOutcome, error) {
				// Leave partial artifacts behind like a killed compiler would.
				_ = os.WriteFile(set.AuxiliaryPaths[1], []byte("aux"), 0o644)
				<-ctx.Done()
				return nil, fmt.Errorf("%w: pdflatex", ErrCompilerTimeout)
			},
			wantErr:   ErrCompilerTimeout,
			wantStage: StageCompiling,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestService(t, WithTimeout(50*time.Millisecond))
			ts.latex.run = tt.run
			ts.latex.checkErr = tt.checkErr

			res, err := ts.Compile(context.Background(), markupRequest("x"))
			if res != nil {
				t.Errorf("result = %+v, want nil", res)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Compile() error = %v, want %v", err, tt.wantErr)
			}

			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("error %T is not *CompileError", err)
			}
			if ce.Stage != tt.wantStage {
				t.Errorf("Stage = %s, want %s", ce.Stage, tt.wantStage)
			}
			if tt.wantMessage != "" && ce.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", ce.Message, tt.wantMessage)
			}
			if tt.wantDetail && ce.Detail == "" {
				t.Error("Detail is empty")
			}
			assertNoArtifacts(t, ts.store)

			if len(ts.obs.finished) != 1 || ts.obs.finished[0] == nil {
				t.Errorf("observer finished = %v, want one failure", ts.obs.finished)
			}
		})
	}
}

func TestService_Compile_MalformedMarkup(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	latex := NewCompilerRunner(LatexToolchain(""))
	latex.LookPath = func(file string) (string, error) { return "/usr/bin/" + file, nil }
	latex.Runner = &MockRunner{
		Stdout:   "This is pdfTeX\n! Undefined control sequence.\nl.1 \\badcommand\n",
		ExitCode: 1,
	}
	svc, err := New(store, WithCompiler(latex))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = svc.Compile(context.Background(), markupRequest(`\badcommand`))
	if !errors.Is(err, ErrCompilationFailed) {
		t.Fatalf("Compile() error = %v, want ErrCompilationFailed", err)
	}

	var execErr *CompilerExecutionError
	if !errors.As(err, &execErr) || execErr.ExitCode != 1 {
		t.Errorf("execution error not reachable: %v", err)
	}
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T is not *CompileError", err)
	}
	if ce.Message != "! Undefined control sequence." {
		t.Errorf("Message = %q, want the pdflatex error line", ce.Message)
	}
	if !strings.Contains(ce.Detail, "l.1 \\badcommand") {
		t.Errorf("Detail = %q, want full compiler output", ce.Detail)
	}
	assertNoArtifacts(t, store)
}

func TestService_Compile_RecoversPanics(t *testing.T) {
	t.Parallel()

	ts := newTestService(t)
	ts.latex.run = func(_ context.Context, set *ArtifactSet, _ Options) (*RunOutcome, error) {
		_ = os.WriteFile(set.OutputPath, []byte("%PDF"), 0o644)
		panic("compiler adapter bug")
	}

	_, err := ts.Compile(context.Background(), markupRequest("x"))
	if err == nil || !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("Compile() error = %v, want internal error", err)
	}
	assertNoArtifacts(t, ts.store)
	if ts.Limiter().InUse() != 0 {
		t.Errorf("limiter slot leaked: InUse() = %d", ts.Limiter().InUse())
	}
}

func TestService_Compile_Recheck(t *testing.T) {
	t.Parallel()

	t.Run("recheck sees a compiler that disappeared", func(t *testing.T) {
		t.Parallel()

		ts := newTestService(t)
		ts.latex.checkErr = ErrCompilerUnavailable
		if _, err := ts.Compile(context.Background(), markupRequest("x")); !errors.Is(err, ErrCompilerUnavailable) {
			t.Errorf("error = %v, want ErrCompilerUnavailable", err)
		}
	})

	t.Run("without recheck the startup result is reused", func(t *testing.T) {
		t.Parallel()

		ts := newTestService(t, WithRecheck(false))
		ts.latex.checkErr = ErrCompilerUnavailable
		if _, err := ts.Compile(context.Background(), markupRequest("x")); err != nil {
			t.Errorf("error = %v, want nil", err)
		}
	})
}

func TestService_Compile_CancelledWhileWaitingForSlot(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	ts := newTestService(t, WithMaxConcurrent(1))
	ts.latex.run = func(_ context.Context, set *ArtifactSet, _ Options) (*RunOutcome, error) {
		<-release
		return copyToOutput(set)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ts.Compile(context.Background(), markupRequest("first"))
		done <- err
	}()
	for ts.Limiter().InUse() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ts.Compile(ctx, markupRequest("second")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("queued Compile() error = %v, want context.DeadlineExceeded", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first Compile() error = %v", err)
	}
	assertNoArtifacts(t, ts.store)
}

// ---------------------------------------------------------------------------
// TestService_Compile_Concurrent - Isolation Between Requests
// ---------------------------------------------------------------------------

func TestService_Compile_Concurrent(t *testing.T) {
	t.Parallel()

	ts := newTestService(t, WithMaxConcurrent(4))
	ts.latex.run = func(_ context.Context, set *ArtifactSet, _ Options) (*RunOutcome, error) {
		time.Sleep(2 * time.Millisecond)
		return copyToOutput(set)
	}

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := fmt.Sprintf("document %d", i)
			res, err := ts.Compile(context.Background(), markupRequest(body))
			if err != nil {
				errs <- err
				return
			}
			if string(res.PDF) != "%PDF "+body {
				errs <- fmt.Errorf("request %d got %q", i, res.PDF)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assertNoArtifacts(t, ts.store)
}

// ---------------------------------------------------------------------------
// TestService_SaveConvert - Saved Documents
// ---------------------------------------------------------------------------

func TestService_SaveConvert(t *testing.T) {
	t.Parallel()

	ts := newTestService(t)
	ctx := context.Background()

	saved, err := ts.Save(ctx, "letter.odt", []byte("odt bytes"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	res, err := ts.ConvertSaved(ctx, saved.ID, Options{})
	if err != nil {
		t.Fatalf("ConvertSaved() error = %v", err)
	}
	if string(res.PDF) != "%PDF odt bytes" || res.Engine != EngineOffice {
		t.Errorf("result = %q via %s", res.PDF, res.Engine)
	}
	if res.RequestID == saved.ID {
		t.Error("conversion reused the document id as request id")
	}

	// The saved document survives conversion.
	if _, err := ts.ConvertSaved(ctx, saved.ID, Options{}); err != nil {
		t.Errorf("second ConvertSaved() error = %v", err)
	}
	assertNoArtifacts(t, ts.store)

	if _, err := ts.ConvertSaved(ctx, "4b1c1c1e-0000-4000-8000-000000000000", Options{}); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("unknown id error = %v, want ErrDocumentNotFound", err)
	}
	if _, err := ts.Save(ctx, "empty.docx", nil); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("empty save error = %v, want ErrEmptyDocument", err)
	}
}

func TestService_WithoutDocuments(t *testing.T) {
	t.Parallel()

	svc, err := New(newTestStore(t), WithCompiler(newFakeCompiler(EngineOffice)))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if _, err := svc.Save(context.Background(), "a.docx", []byte("x")); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Save() error = %v, want ErrServiceUnavailable", err)
	}
	if _, err := svc.ConvertSaved(context.Background(), "id", Options{}); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("ConvertSaved() error = %v, want ErrServiceUnavailable", err)
	}
}

// ---------------------------------------------------------------------------
// TestService_Close - Shutdown
// ---------------------------------------------------------------------------

func TestService_Close(t *testing.T) {
	t.Parallel()

	ts := newTestService(t)
	if err := ts.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !ts.html.closed.Load() {
		t.Error("closable compiler not closed")
	}
	if err := ts.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := ts.Compile(context.Background(), markupRequest("x")); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Compile() after Close error = %v, want ErrServiceUnavailable", err)
	}
	if _, err := ts.Save(context.Background(), "a.docx", []byte("x")); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Save() after Close error = %v, want ErrServiceUnavailable", err)
	}
}

func TestService_Health(t *testing.T) {
	t.Parallel()

	ts := newTestService(t)
	ts.pandoc.checkErr = ErrCompilerUnavailable

	health := ts.Health()
	if len(health) != 4 {
		t.Fatalf("Health() has %d entries, want 4", len(health))
	}
	if health[EngineLatex] != nil {
		t.Errorf("latex = %v, want nil", health[EngineLatex])
	}
	if !errors.Is(health[EnginePandoc], ErrCompilerUnavailable) {
		t.Errorf("pandoc = %v, want ErrCompilerUnavailable", health[EnginePandoc])
	}
}
