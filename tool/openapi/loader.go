package openapi

import (
	"context"
	"fmt"
	"io"

	"github.com/getkin/kin-openapi/openapi3"
)

// Loader loads an OpenAPI document.
type Loader interface {
	Load(ctx context.Context) (*openapi3.T, error)
}

type dataLoader struct {
	r io.Reader
}

// NewDataLoader loads the document (JSON or YAML) from r.
func NewDataLoader(r io.Reader) Loader { return &dataLoader{r: r} }

func (d *dataLoader) Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.Loader{Context: ctx}
	return loader.LoadFromIoReader(d.r)
}

type fileLoader struct {
	path string
}

// NewFileLoader loads the document from a .json or .yaml file.
func NewFileLoader(path string) Loader { return &fileLoader{path: path} }

func (f *fileLoader) Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.Loader{Context: ctx}
	return loader.LoadFromFile(f.path)
}

func loadDocument(ctx context.Context, loader Loader) (*openapi3.T, error) {
	if loader == nil {
		return nil, fmt.Errorf("openapi: document loader not provided")
	}

	doc, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("openapi: load document: %w", err)
	}

	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi: invalid document: %w", err)
	}

	return doc, nil
}
