package gcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"googleapi 401", &googleapi.Error{Code: 401}, backend.ErrAuthentication},
		{"googleapi 403", &googleapi.Error{Code: 403}, backend.ErrAuthentication},
		{"googleapi 404", &googleapi.Error{Code: 404}, backend.ErrNotFound},
		{"googleapi 429", &googleapi.Error{Code: 429}, backend.ErrBackendUnavailable},
		{"googleapi 503", fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 503}), backend.ErrBackendUnavailable},
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, "no"), backend.ErrAuthentication},
		{"grpc not found", status.Error(codes.NotFound, "gone"), backend.ErrNotFound},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), backend.ErrBackendUnavailable},
		{"object missing", storage.ErrObjectNotExist, backend.ErrNotFound},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, backend.ErrBackendUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify("op", tc.err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, tc.err, "the original error stays in the chain")
		})
	}
}

func TestClassifyLeavesOtherErrorsAlone(t *testing.T) {
	plain := errors.New("bad request")
	assert.Same(t, plain, Classify("op", plain))
	assert.NoError(t, Classify("op", nil))

	badRequest := &googleapi.Error{Code: 400}
	assert.False(t, backend.IsFatal(Classify("op", badRequest)))
}

func TestParseGCSURI(t *testing.T) {
	bucket, prefix, ok := ParseGCSURI("gs://out-bucket/ocr/texts/")
	assert.True(t, ok)
	assert.Equal(t, "out-bucket", bucket)
	assert.Equal(t, "ocr/texts", prefix)

	bucket, prefix, ok = ParseGCSURI("gs://only-bucket")
	assert.True(t, ok)
	assert.Equal(t, "only-bucket", bucket)
	assert.Empty(t, prefix)

	for _, bad := range []string{"", "gs://", "/local/dir", "s3://bucket"} {
		_, _, ok := ParseGCSURI(bad)
		assert.False(t, ok, bad)
	}
}

func TestNewGCSSinkRejectsLocalPath(t *testing.T) {
	_, err := NewGCSSink(nil, "/tmp/out")
	assert.ErrorIs(t, err, backend.ErrConfiguration)
}

func TestTextObjectName(t *testing.T) {
	assert.Equal(t, "report.pdf.txt", TextObjectName("report.pdf"))
	assert.Equal(t, "scan.2024.png.txt", TextObjectName("scan.2024.png"))
	assert.Equal(t, "notes.txt", TextObjectName("folder/notes"))
	assert.Equal(t, "x.pdf.txt", TextObjectName(`C:\docs\x.pdf`))
	assert.NotEqual(t, TextObjectName("scan.pdf"), TextObjectName("scan.png"))
}

func TestEscapeDriveQuery(t *testing.T) {
	assert.Equal(t, `Bob\'s Records`, escapeDriveQuery("Bob's Records"))
	assert.Equal(t, `a\\b`, escapeDriveQuery(`a\b`))
}

func TestTrimFence(t *testing.T) {
	assert.Equal(t, "# Title", trimFence("```markdown\n# Title\n```"))
	assert.Equal(t, "body", trimFence("  ```\nbody\n```  "))
	assert.Equal(t, "plain", trimFence("plain"))
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, isRefusal("I am unable to read this document."))
	assert.True(t, isRefusal("  As a large language model, I cannot transcribe handwriting."))
	assert.False(t, isRefusal("Invoice 42\nTotal: 10"))
	assert.False(t, isRefusal(""))
}

func TestIsRefusalKeepsDocumentsQuotingRefusals(t *testing.T) {
	letter := "Dear Dr. Patel,\n\nThank you for the invitation to the quarterly review. " +
		"Unfortunately I am unable to attend on the 14th because of a prior surgery booking. " +
		"I cannot provide the imaging summary before then either, but my registrar will send it " +
		"by the end of the month.\n\nKind regards,\nDr. M. Okafor"
	assert.False(t, isRefusal(letter))
	assert.False(t, isRefusal("I am unable to attend the meeting on Friday.\n"+strings.Repeat("Minutes of the previous meeting. ", 12)))
}

func TestBlockedReason(t *testing.T) {
	withReason := func(r genai.FinishReason) *genai.GenerateContentResponse {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			FinishReason: r,
			Content:      &genai.Content{Parts: []genai.Part{genai.Text("partial")}},
		}}}
	}

	for _, r := range []genai.FinishReason{genai.FinishReasonRecitation, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent, genai.FinishReasonSpii, genai.FinishReasonSafety} {
		got, ok := blockedReason(withReason(r))
		assert.True(t, ok, r.String())
		assert.Equal(t, r, got)
	}
	_, ok := blockedReason(withReason(genai.FinishReasonStop))
	assert.False(t, ok)
	_, ok = blockedReason(withReason(genai.FinishReasonMaxTokens))
	assert.False(t, ok)
	_, ok = blockedReason(nil)
	assert.False(t, ok)
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", mimeTypeFor("a.PNG"))
	assert.Equal(t, "image/jpeg", mimeTypeFor("photo.jpg"))
	assert.Equal(t, "application/pdf", mimeTypeFor("b.pdf"))
	assert.Equal(t, "application/pdf", mimeTypeFor("no-extension"))
}

func TestExtractMarkdown(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("```markdown\n# Page"), genai.Text("\ntext\n```")}},
		}},
	}
	assert.Equal(t, "# Page\ntext", extractMarkdown(resp))
	assert.Empty(t, extractMarkdown(nil))
	assert.Empty(t, extractMarkdown(&genai.GenerateContentResponse{}))
}

func TestVertexExtractorRequiresGCSURL(t *testing.T) {
	e := NewVertexExtractor(&VertexClient{})
	_, err := e.Extract(context.Background(), "https://example.com/a.pdf", "a.pdf")
	assert.ErrorIs(t, err, backend.ErrMalformedResponse)
}

func TestStorageBackendUploadNeedsStagingBucket(t *testing.T) {
	b := NewStorageBackend(nil, "source", "")
	_, err := b.Upload(context.Background(), []byte("x"), "a.pdf", backend.PurposeOCR)
	assert.ErrorIs(t, err, backend.ErrConfiguration)
}

func TestCountUpdates(t *testing.T) {
	rec := models.Record{
		FileNames:      []string{"a", "b", "c"},
		ExtractedTexts: []string{"x", ""},
		Dropped:        []models.DroppedItem{{Stage: "fetch", Name: "c"}},
	}
	got := map[string]any{}
	for _, u := range countUpdates(rec) {
		got[u.Path] = u.Value
	}
	assert.Equal(t, map[string]any{"fileCount": 3, "extractedCount": 2, "droppedCount": 1}, got)
}
