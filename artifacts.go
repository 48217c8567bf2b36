package doc2pdf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alnah/go-doc2pdf/internal/fileutil"
)

// Artifact area names under the store root.
const (
	inputDirName  = "input"
	outputDirName = "output"
)

// Directory and file permissions for artifacts.
const (
	artifactDirPerm  = 0o750
	artifactFilePerm = 0o644
)

// auxiliaryExtensions are the side files compilers leave next to their
// input or output. They are removed with every artifact set.
var auxiliaryExtensions = []string{
	".aux", ".log", ".out", ".toc", ".fls", ".fdb_latexmk",
	".synctex.gz", ".nav", ".snm", ".bbl", ".blg",
}

// ArtifactSet is the group of filesystem paths owned by one compilation.
// It is released by ArtifactStore.Cleanup.
type ArtifactSet struct {
	RequestID      string
	InputPath      string
	OutputDir      string
	OutputPath     string
	AuxiliaryPaths []string
}

// Paths returns every path of the set, input and output first.
func (s *ArtifactSet) Paths() []string {
	paths := make([]string, 0, 2+len(s.AuxiliaryPaths))
	paths = append(paths, s.InputPath, s.OutputPath)
	return append(paths, s.AuxiliaryPaths...)
}

// StoreOption configures an ArtifactStore or a DocumentStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	logger   *zap.Logger
	observer Observer
}

// WithStoreLogger sets the logger used to report cleanup failures.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(c *storeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStoreObserver sets the observer notified of cleanup failures.
func WithStoreObserver(o Observer) StoreOption {
	return func(c *storeConfig) {
		if o != nil {
			c.observer = o
		}
	}
}

func newStoreConfig(opts []StoreOption) storeConfig {
	cfg := storeConfig{logger: zap.NewNop(), observer: NopObserver{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ArtifactStore allocates, reads and releases the temporary files of
// compilations. Paths are derived from request identifiers, so concurrent
// requests with distinct identifiers never share a file.
type ArtifactStore struct {
	root      string
	inputDir  string
	outputDir string
	cfg       storeConfig
}

// NewArtifactStore creates the input and output areas under root.
func NewArtifactStore(root string, opts ...StoreOption) (*ArtifactStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root directory", ErrAllocation)
	}
	// Compilers run in the output area, so every path handed to them is absolute.
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrAllocation, root, err)
	}
	root = abs
	s := &ArtifactStore{
		root:      root,
		inputDir:  filepath.Join(root, inputDirName),
		outputDir: filepath.Join(root, outputDirName),
		cfg:       newStoreConfig(opts),
	}
	for _, dir := range []string{s.inputDir, s.outputDir} {
		if err := os.MkdirAll(dir, artifactDirPerm); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", ErrAllocation, dir, err)
		}
	}
	return s, nil
}

// Root returns the store root directory.
func (s *ArtifactStore) Root() string { return s.root }

// Allocate returns the artifact paths for requestID. Nothing is created on
// disk. inputExt selects the input file extension (".tex", ".docx", ...).
func (s *ArtifactStore) Allocate(requestID, inputExt string) (*ArtifactSet, error) {
	if err := fileutil.ValidateName(requestID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	if err := fileutil.ValidateExtension(inputExt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	if !strings.HasPrefix(inputExt, ".") {
		inputExt = "." + inputExt
	}

	inputName := requestID + inputExt
	set := &ArtifactSet{
		RequestID:  requestID,
		InputPath:  filepath.Join(s.inputDir, inputName),
		OutputDir:  s.outputDir,
		OutputPath: filepath.Join(s.outputDir, requestID+".pdf"),
	}

	aux := make([]string, 0, 2*len(auxiliaryExtensions)+1)
	for _, ext := range auxiliaryExtensions {
		aux = append(aux,
			filepath.Join(s.inputDir, requestID+ext),
			filepath.Join(s.outputDir, requestID+ext),
		)
	}
	// LibreOffice lock file for the input document.
	aux = append(aux, filepath.Join(s.inputDir, ".~lock."+inputName+"#"))
	set.AuxiliaryPaths = aux

	return set, nil
}

// Write stores content at path.
func (s *ArtifactStore) Write(path string, content []byte) error {
	// #nosec G306 -- artifacts are read by external compiler processes
	if err := os.WriteFile(path, content, artifactFilePerm); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrIO, path, err)
	}
	return nil
}

// Read returns the content at path.
func (s *ArtifactStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from Allocate
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrIO, path, err)
	}
	return data, nil
}

// Cleanup removes every path of set. Missing files are expected; other
// failures are logged and reported to the observer but never returned.
// It reports how many paths failed.
func (s *ArtifactStore) Cleanup(set *ArtifactSet) int {
	if set == nil {
		return 0
	}
	failed := 0
	for _, path := range set.Paths() {
		if err := fileutil.RemoveIfExists(path); err != nil {
			failed++
			s.cfg.logger.Warn("artifact cleanup failed",
				zap.String("request_id", set.RequestID),
				zap.String("path", path),
				zap.Error(err))
			s.cfg.observer.CleanupFailed(path, err)
		}
	}
	return failed
}

// Sweep removes files older than maxAge from both artifact areas. It is
// meant for crash recovery, when a process died before Cleanup ran.
// Returns the number of files removed.
func (s *ArtifactStore) Sweep(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, dir := range []string{s.inputDir, s.outputDir} {
		n, err := sweepDir(dir, cutoff)
		removed += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if removed > 0 {
		s.cfg.logger.Info("swept orphaned artifacts", zap.Int("count", removed))
	}
	return removed, errors.Join(errs...)
}

// sweepDir removes regular files in dir modified before cutoff.
func sweepDir(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: listing %s: %v", ErrIO, dir, err)
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := fileutil.RemoveIfExists(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
