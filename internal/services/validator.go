package services

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const contentTypePDF = "application/pdf"

// ContentValidator accepts payloads whose sniffed content type is in Allowed.
// PDFs are additionally parsed with pdfcpu in relaxed mode.
type ContentValidator struct {
	Allowed []string
}

// NewContentValidator returns a validator for the given content types.
func NewContentValidator(allowed []string) *ContentValidator {
	return &ContentValidator{Allowed: allowed}
}

func (v *ContentValidator) Validate(name string, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%s: empty payload", name)
	}

	contentType := sniffContentType(payload)
	if !v.allows(contentType) {
		return fmt.Errorf("%s: content type %s is not accepted", name, contentType)
	}

	if contentType == contentTypePDF {
		if err := api.Validate(bytes.NewReader(payload), pdfConfig()); err != nil {
			return fmt.Errorf("%s: invalid pdf: %w", name, err)
		}
	}
	return nil
}

func (v *ContentValidator) allows(contentType string) bool {
	if len(v.Allowed) == 0 {
		return true
	}
	for _, a := range v.Allowed {
		if a == contentType {
			return true
		}
	}
	return false
}

func sniffContentType(payload []byte) string {
	ct := http.DetectContentType(payload)
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		return mediaType
	}
	return ct
}

func pdfConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}
