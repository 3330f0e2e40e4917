package cbboard

import (
	"strings"

	"github.com/corkboard/corkboard/internal/cbstore"
)

// Allowed MIME classes per upload surface. Attachments take rich media;
// verification takes a document that can identify someone.
var (
	attachmentMIMEClasses = []string{"image/", "video/", "audio/"}
	verifyMIMEClasses     = []string{"image/", "application/pdf"}
)

// maxDataURLLength bounds the inline payload: the base64 expansion of
// MaxFileBytes plus scheme/MIME preamble.
const maxDataURLLength = cbstore.MaxFileBytes/3*4 + 1024

func mimeAllowed(classes []string, mimeType string) bool {
	for _, class := range classes {
		if strings.HasPrefix(mimeType, class) {
			return true
		}
	}
	return false
}

// validateFile checks an uploaded file descriptor against one of the MIME
// allowlists. The payload must be an inline base64 data URL: the board
// stores no blobs outside the document itself.
func validateFile(file cbstore.FileDesc, classes []string) error {
	if strings.TrimSpace(file.Name) == "" {
		return &ValidationError{Message: "file name is required"}
	}
	if !mimeAllowed(classes, file.Type) {
		return validationErrorf("file type %q is not allowed here", file.Type)
	}
	if file.Size > cbstore.MaxFileBytes || int64(len(file.DataURL)) > maxDataURLLength {
		return validationErrorf("file is larger than the %d byte maximum", cbstore.MaxFileBytes)
	}
	if !strings.HasPrefix(file.DataURL, "data:") || !strings.Contains(file.DataURL, ";base64,") {
		return &ValidationError{Message: "file payload must be an inline base64 data URL"}
	}
	return nil
}
