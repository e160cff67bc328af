// Package mistral is a client for the Mistral OCR REST API. It implements
// the upload, resolve and extract backends of the pipeline.
package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

const (
	DefaultBaseURL = "https://api.mistral.ai"
	DefaultModel   = "mistral-ocr-latest"
)

// Config holds the client settings. APIKey has no default.
type Config struct {
	BaseURL              string
	APIKey               string
	Model                string
	SignedURLExpiryHours int
	HTTPClient           *http.Client
}

// Client talks to the Mistral files and OCR endpoints.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	expiryHours int
	httpClient  *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, backend.Configuration("mistral API key must be set")
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		expiryHours: cfg.SignedURLExpiryHours,
		httpClient:  cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.expiryHours <= 0 {
		c.expiryHours = 24
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return c, nil
}

// Upload sends payload to /v1/files. The decoded JSON body is kept as the
// receipt's Raw map; a body without an id yields a receipt with an empty ID.
func (c *Client) Upload(ctx context.Context, payload []byte, name, purpose string) (models.Receipt, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", purpose); err != nil {
		return models.Receipt{}, fmt.Errorf("build upload form: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return models.Receipt{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return models.Receipt{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.Receipt{}, fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", &body)
	if err != nil {
		return models.Receipt{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var raw map[string]any
	if err := c.do(req, &raw); err != nil {
		return models.Receipt{}, err
	}
	id, _ := raw["id"].(string)
	return models.Receipt{ID: id, Name: name, Raw: raw}, nil
}

type signedURLResponse struct {
	URL string `json:"url"`
}

// Resolve fetches a signed URL for an uploaded file.
func (c *Client) Resolve(ctx context.Context, receiptID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/files/%s/url?expiry=%d", c.baseURL, url.PathEscape(receiptID), c.expiryHours)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	var out signedURLResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", backend.Malformed("mistral signed url", fmt.Errorf("response for %s has no url", receiptID))
	}
	return out.URL, nil
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

type ocrResponse struct {
	Pages []backend.Page `json:"pages"`
}

// Extract runs OCR on the document at url. Image file names are sent as an
// image_url document, everything else as a document_url.
func (c *Client) Extract(ctx context.Context, docURL, name string) (backend.ExtractResult, error) {
	doc := ocrDocument{Type: "document_url", DocumentURL: docURL}
	if isImage(name) {
		doc = ocrDocument{Type: "image_url", ImageURL: docURL}
	}
	payload, err := json.Marshal(ocrRequest{Model: c.model, Document: doc})
	if err != nil {
		return backend.ExtractResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ocr", bytes.NewReader(payload))
	if err != nil {
		return backend.ExtractResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out ocrResponse
	if err := c.do(req, &out); err != nil {
		return backend.ExtractResult{}, err
	}
	if out.Pages == nil {
		return backend.ExtractResult{}, backend.Malformed("mistral ocr", errors.New("response has no pages"))
	}
	return backend.ExtractResult{Pages: out.Pages}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	op := req.Method + " " + req.URL.Path
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return backend.Unavailable(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return backend.Unavailable(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w (status %d)", op, backend.ErrAuthentication, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, backend.ErrNotFound, snippet(body))
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusTooEarly:
		return fmt.Errorf("%s: %w", op, backend.ErrPending)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return backend.Unavailable(op, fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, snippet(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return backend.Malformed(op, err)
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tif", ".tiff", ".avif":
		return true
	}
	return false
}
