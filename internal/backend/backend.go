// Package backend defines the narrow interfaces the pipeline stages use to
// reach external systems, and the error taxonomy those systems report with.
package backend

import (
	"context"
	"io"

	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// PurposeOCR is the upload purpose used when submitting documents for OCR.
const PurposeOCR = "ocr"

// Item is one entry returned by a search.
type Item struct {
	Name string
	ID   string
}

// Searcher lists the documents in a folder. An empty folder is not an error.
type Searcher interface {
	Search(ctx context.Context, folder string) ([]Item, error)
}

// Fetcher streams the content of a document by its storage identifier.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (io.ReadCloser, error)
}

// Validator checks a fetched payload before it is accepted.
type Validator interface {
	Validate(name string, payload []byte) error
}

// Uploader submits a payload to the OCR service.
type Uploader interface {
	Upload(ctx context.Context, payload []byte, name, purpose string) (models.Receipt, error)
}

// Resolver turns an upload receipt into a retrievable URL. It returns
// ErrPending while the backend is still processing the upload.
type Resolver interface {
	Resolve(ctx context.Context, receiptID string) (string, error)
}

// Page is one ordered text segment of an extraction result.
type Page struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// ExtractResult is the structured response of an extraction backend.
type ExtractResult struct {
	Pages []Page `json:"pages"`
}

// Extractor runs OCR on the document behind url. name is the source file
// name and lets providers pick an input type.
type Extractor interface {
	Extract(ctx context.Context, url, name string) (ExtractResult, error)
}

// OCRService bundles the three OCR-side collaborators. Vendor clients
// usually implement all of them.
type OCRService interface {
	Uploader
	Resolver
	Extractor
}

// Sink stores an extracted text under key, a slash-separated path relative
// to the sink's destination, and returns where it went. A key that is
// already taken fails with ErrAlreadyExists.
type Sink interface {
	Write(ctx context.Context, key, text string) (string, error)
}
