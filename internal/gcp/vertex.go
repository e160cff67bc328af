package gcp

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are a document OCR engine. Your task is to read the provided document or image and transcribe all of its text into markdown. Accuracy and completeness are of utmost importance."
const OCRUserPrompt = `You will be provided with a document or an image of a document.

Transcribe it into markdown following these rules:

Text: Transcribe all text exactly as written, in reading order.
Lists: Keep lists as markdown lists.
Tables: Keep tables as markdown tables.
Images: Omit pictures that carry no text.
Do not summarise, translate or add commentary. Return ONLY the markdown.`

// VertexClient holds the pre-configured generative model used for OCR.
type VertexClient struct {
	OCRModel   *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexClient creates a new client holding the OCR model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	ocrModel := baseClient.GenerativeModel(modelName)
	ocrModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	ocrModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		OCRModel:   ocrModel,
		baseClient: baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// VertexExtractor runs OCR with Gemini over documents already in GCS.
type VertexExtractor struct {
	client *VertexClient
}

// NewVertexExtractor wraps client as a backend.Extractor.
func NewVertexExtractor(client *VertexClient) *VertexExtractor {
	return &VertexExtractor{client: client}
}

// Extract reads the gs:// url with Gemini and returns the markdown as a
// single page.
func (e *VertexExtractor) Extract(ctx context.Context, url, name string) (backend.ExtractResult, error) {
	if !strings.HasPrefix(url, "gs://") {
		return backend.ExtractResult{}, backend.Malformed("vertex extract", fmt.Errorf("expected a gs:// url, got %q", url))
	}
	filePart := genai.FileData{
		MIMEType: mimeTypeFor(name),
		FileURI:  url,
	}

	resp, err := e.client.OCRModel.GenerateContent(ctx, filePart, genai.Text(OCRUserPrompt))
	if err != nil {
		return backend.ExtractResult{}, Classify("vertex generate content", fmt.Errorf("failed to generate content from gemini: %w", err))
	}

	if reason, ok := blockedReason(resp); ok {
		return backend.ExtractResult{}, backend.Malformed("vertex extract", fmt.Errorf("gemini stopped with %s for %s", reason, name))
	}
	markdown := extractMarkdown(resp)
	if isRefusal(markdown) {
		return backend.ExtractResult{}, backend.Malformed("vertex extract", fmt.Errorf("gemini response indicates refusal for %s", name))
	}
	return backend.ExtractResult{Pages: []backend.Page{{Index: 0, Markdown: markdown}}}, nil
}

// extractMarkdown concatenates the text parts of the first candidate and
// strips a surrounding code fence.
func extractMarkdown(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var markdownContent strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			markdownContent.WriteString(string(txt))
		}
	}
	return trimFence(markdownContent.String())
}

func trimFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// blockedReason reports whether the first candidate was cut off for a content
// reason rather than finishing normally.
func blockedReason(resp *genai.GenerateContentResponse) (genai.FinishReason, bool) {
	if resp == nil || len(resp.Candidates) == 0 {
		return genai.FinishReasonUnspecified, false
	}
	switch r := resp.Candidates[0].FinishReason; r {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent, genai.FinishReasonSpii:
		return r, true
	default:
		return r, false
	}
}

// maxRefusalLen is the longest reply still treated as a refusal. Transcribed
// documents are free to contain refusal wording.
const maxRefusalLen = 300

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// isRefusal reports whether content is a short reply that opens with a
// refusal instead of a transcription.
func isRefusal(content string) bool {
	lower := strings.ToLower(strings.TrimSpace(content))
	if len(lower) > maxRefusalLen {
		return false
	}
	for _, phrase := range refusalPhrases {
		if strings.HasPrefix(lower, phrase) {
			return true
		}
	}
	return false
}

func mimeTypeFor(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
		return t
	}
	return "application/pdf"
}

// VertexOCR stages uploads in GCS and extracts them with Gemini.
type VertexOCR struct {
	*StorageBackend
	*VertexExtractor
}
