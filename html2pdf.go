package doc2pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/alnah/go-doc2pdf/internal/process"
)

// Sentinel errors for browser rendering failures.
var (
	ErrBrowserConnect = errors.New("failed to connect to browser")
	ErrPageCreate     = errors.New("failed to create browser page")
	ErrPageLoad       = errors.New("failed to load page")
	ErrPDFGeneration  = errors.New("PDF generation failed")
)

// browserTool names the browser in diagnostics.
const browserTool = "chrome"

// Paper dimensions in inches, portrait.
var paperSizes = map[string][2]float64{
	PageSizeLetter: {8.5, 11},
	PageSizeA4:     {8.27, 11.69},
	PageSizeLegal:  {8.5, 14},
}

// pdfRenderer abstracts PDF rendering from an HTML file to enable testing without a browser.
type pdfRenderer interface {
	RenderFromFile(ctx context.Context, filePath string, opts Options) ([]byte, error)
	Close() error
}

// BrowserConfig selects the Chrome binary used for HTML rendering.
type BrowserConfig struct {
	Bin       string // empty: found on PATH, else downloaded by rod
	NoSandbox bool   // required in most containers
}

// HTMLCompiler renders standalone HTML pages to PDF with headless Chrome.
type HTMLCompiler struct {
	cfg      BrowserConfig
	renderer pdfRenderer
}

var (
	_ Compiler    = (*HTMLCompiler)(nil)
	_ pdfRenderer = (*rodRenderer)(nil)
)

// NewHTMLCompiler creates an HTMLCompiler. The browser starts lazily on
// the first render.
func NewHTMLCompiler(cfg BrowserConfig) *HTMLCompiler {
	return &HTMLCompiler{cfg: cfg, renderer: &rodRenderer{cfg: cfg}}
}

// Engine returns EngineHTML.
func (c *HTMLCompiler) Engine() string { return EngineHTML }

// Check verifies that a configured browser binary exists. Without one,
// rod downloads a managed Chromium on first use.
func (c *HTMLCompiler) Check() error {
	if c.cfg.Bin == "" {
		return nil
	}
	if _, err := exec.LookPath(c.cfg.Bin); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCompilerUnavailable, c.cfg.Bin, err)
	}
	return nil
}

// Run renders set.InputPath and writes the PDF to set.OutputPath.
func (c *HTMLCompiler) Run(ctx context.Context, set *ArtifactSet, opts Options, timeout time.Duration) (*RunOutcome, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pdf, err := c.renderer.RenderFromFile(runCtx, set.InputPath, opts)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case runCtx.Err() != nil:
			return nil, fmt.Errorf("%w: %s after %s", ErrCompilerTimeout, browserTool, timeout)
		case errors.Is(err, ErrBrowserConnect):
			return nil, fmt.Errorf("%w: %w", ErrCompilerUnavailable, err)
		default:
			return &RunOutcome{ExitCode: -1, Stderr: err.Error()}, &CompilerExecutionError{
				Tool:     browserTool,
				ExitCode: -1,
				Stderr:   err.Error(),
			}
		}
	}

	// #nosec G306 -- PDF output files are intended to be readable
	if err := os.WriteFile(set.OutputPath, pdf, artifactFilePerm); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", ErrIO, set.OutputPath, err)
	}
	return &RunOutcome{ExitIndicatesSuccess: true}, nil
}

// Close releases browser resources.
func (c *HTMLCompiler) Close() error {
	if c.renderer != nil {
		return c.renderer.Close()
	}
	return nil
}

// rodRenderer implements pdfRenderer using go-rod. It is safe for
// concurrent use: pages share one browser.
type rodRenderer struct {
	cfg      BrowserConfig
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// ensureBrowser lazily launches and connects to the browser.
func (r *rodRenderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New()
	if r.cfg.Bin != "" {
		l = l.Bin(r.cfg.Bin)
	}
	if r.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	r.launcher = l
	r.browser = browser
	return browser, nil
}

// Close releases browser resources, including Chrome child processes.
func (r *rodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launcher != nil {
		if pid := r.launcher.PID(); pid > 0 {
			process.KillProcessGroup(pid)
		}
		r.launcher.Kill()
		r.launcher = nil
	}
	return err
}

// RenderFromFile opens a local HTML file in headless Chrome and renders it to PDF.
// Returns explicit errors instead of panicking when browser operations fail.
func (r *rodRenderer) RenderFromFile(ctx context.Context, filePath string, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "file://" + filePath})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	defer func() { _ = page.Close() }()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageLoad, err)
	}

	reader, err := page.PDF(buildPDFOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFGeneration, err)
	}

	pdfBuf, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading PDF stream: %v", ErrPDFGeneration, err)
	}
	return pdfBuf, nil
}

// buildPDFOptions maps layout options to Chrome print settings.
func buildPDFOptions(opts Options) *proto.PagePrintToPDF {
	size, ok := paperSizes[opts.pageSize()]
	if !ok {
		size = paperSizes[PageSizeLetter]
	}
	margin := opts.margin()
	return &proto.PagePrintToPDF{
		Landscape:       opts.landscape(),
		PaperWidth:      floatPtr(size[0]),
		PaperHeight:     floatPtr(size[1]),
		MarginTop:       floatPtr(margin),
		MarginBottom:    floatPtr(margin),
		MarginLeft:      floatPtr(margin),
		MarginRight:     floatPtr(margin),
		PrintBackground: true,
	}
}

// floatPtr returns a pointer to a float64 value.
func floatPtr(v float64) *float64 {
	return &v
}
