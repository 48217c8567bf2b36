package main

import (
	"fmt"

	"go.uber.org/zap"

	doc2pdf "github.com/alnah/go-doc2pdf"
	"github.com/alnah/go-doc2pdf/internal/config"
	"github.com/alnah/go-doc2pdf/internal/hints"
)

// stores groups the on-disk areas owned by a Service.
type stores struct {
	artifacts *doc2pdf.ArtifactStore
	documents *doc2pdf.DocumentStore
}

// openStores creates the artifact and saved document areas under the
// configured root.
func openStores(cfg *config.Config, logger *zap.Logger, obs doc2pdf.Observer) (*stores, error) {
	opts := []doc2pdf.StoreOption{doc2pdf.WithStoreLogger(logger)}
	if obs != nil {
		opts = append(opts, doc2pdf.WithStoreObserver(obs))
	}

	artifacts, err := doc2pdf.NewArtifactStore(cfg.Storage.Root, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w%s", err, hints.ForStorageRoot())
	}
	documents, err := doc2pdf.NewDocumentStore(cfg.Storage.Root, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w%s", err, hints.ForStorageRoot())
	}
	return &stores{artifacts: artifacts, documents: documents}, nil
}

// newService builds a Service whose compilers follow cfg. extra options
// are applied last.
func newService(cfg *config.Config, st *stores, logger *zap.Logger, obs doc2pdf.Observer, extra ...doc2pdf.Option) (*doc2pdf.Service, error) {
	opts := []doc2pdf.Option{
		doc2pdf.WithLogger(logger),
		doc2pdf.WithObserver(obs),
		doc2pdf.WithDocuments(st.documents),
		doc2pdf.WithTimeout(cfg.Compiler.Timeout.Std()),
		doc2pdf.WithMaxConcurrent(cfg.Compiler.MaxConcurrent),
		doc2pdf.WithRecheck(cfg.Compiler.Recheck),
		doc2pdf.WithCompiler(doc2pdf.NewCompilerRunner(doc2pdf.LatexToolchain(cfg.Compiler.LatexBin))),
		doc2pdf.WithCompiler(doc2pdf.NewCompilerRunner(doc2pdf.OfficeToolchain(cfg.Compiler.OfficeBin))),
		doc2pdf.WithCompiler(doc2pdf.NewCompilerRunner(doc2pdf.PandocToolchain(cfg.Compiler.PandocBin, ""))),
		doc2pdf.WithCompiler(doc2pdf.NewHTMLCompiler(doc2pdf.BrowserConfig{
			Bin:       cfg.Browser.Bin,
			NoSandbox: cfg.Browser.NoSandbox,
		})),
	}
	return doc2pdf.New(st.artifacts, append(opts, extra...)...)
}
