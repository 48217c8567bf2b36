package doc2pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alnah/go-doc2pdf/internal/fileutil"
)

// documentsDirName is the area under the store root holding saved uploads.
const documentsDirName = "documents"

// DefaultRetention is how long saved documents are kept before Sweep removes them.
const DefaultRetention = time.Hour

// SupportedDocumentExtensions lists the upload formats accepted by Save.
var SupportedDocumentExtensions = []string{".docx", ".doc", ".odt", ".rtf"}

// defaultDocumentExt is used when an upload name carries no extension.
const defaultDocumentExt = ".docx"

// SavedDocument describes a persisted upload.
type SavedDocument struct {
	ID      string
	Path    string
	Ext     string
	Size    int64
	SavedAt time.Time
}

// DocumentStore persists uploaded binary documents under generated
// identifiers so they can be converted later.
type DocumentStore struct {
	dir string
	cfg storeConfig
}

// NewDocumentStore creates the documents area under root.
func NewDocumentStore(root string, opts ...StoreOption) (*DocumentStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root directory", ErrAllocation)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrAllocation, root, err)
	}
	root = abs
	dir := filepath.Join(root, documentsDirName)
	if err := os.MkdirAll(dir, artifactDirPerm); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrAllocation, dir, err)
	}
	return &DocumentStore{dir: dir, cfg: newStoreConfig(opts)}, nil
}

// Save writes content under a fresh identifier. filename only selects the
// extension; an empty extension defaults to .docx.
func (s *DocumentStore) Save(ctx context.Context, filename string, content []byte) (*SavedDocument, error) {
	if len(content) == 0 {
		return nil, ErrEmptyDocument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext, err := documentExt(filename)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+ext)
	if err := fileutil.WriteFileAtomic(path, content, artifactFilePerm); err != nil {
		return nil, fmt.Errorf("%w: saving document: %v", ErrIO, err)
	}

	doc := &SavedDocument{
		ID:      id,
		Path:    path,
		Ext:     ext,
		Size:    int64(len(content)),
		SavedAt: time.Now(),
	}
	s.cfg.logger.Debug("document saved",
		zap.String("document_id", id),
		zap.String("ext", ext),
		zap.Int64("size", doc.Size))
	return doc, nil
}

// Load returns the saved document with the given identifier. A malformed
// identifier is reported as both ErrInvalidDocumentID and ErrDocumentNotFound.
func (s *DocumentStore) Load(id string) (*SavedDocument, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %w: %q", ErrDocumentNotFound, ErrInvalidDocumentID, id)
	}

	for _, ext := range SupportedDocumentExtensions {
		path := filepath.Join(s.dir, id+ext)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		return &SavedDocument{
			ID:      id,
			Path:    path,
			Ext:     ext,
			Size:    info.Size(),
			SavedAt: info.ModTime(),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
}

// Read returns the content of a saved document.
func (s *DocumentStore) Read(doc *SavedDocument) ([]byte, error) {
	data, err := os.ReadFile(doc.Path) // #nosec G304 -- path built by Load
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, doc.ID)
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return data, nil
}

// Sweep removes documents saved more than retention ago.
func (s *DocumentStore) Sweep(retention time.Duration) (int, error) {
	n, err := sweepDir(s.dir, time.Now().Add(-retention))
	if n > 0 {
		s.cfg.logger.Info("swept saved documents", zap.Int("count", n))
	}
	return n, err
}

// documentExt returns the lower-cased extension of filename, checking that
// it is a supported upload format.
func documentExt(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return defaultDocumentExt, nil
	}
	if !slices.Contains(SupportedDocumentExtensions, ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return ext, nil
}
