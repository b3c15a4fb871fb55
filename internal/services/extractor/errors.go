package extractor

import "fmt"

// Diagnostics travels with every extraction failure so operators can see
// why extraction came up empty without reproducing the page.
type Diagnostics struct {
	Strategy    string `json:"strategy"`
	Selector    string `json:"selector,omitempty"`
	TextLength  int    `json:"text_length"`
	TextPreview string `json:"text_preview,omitempty"`
	Candidates  int    `json:"candidates"`
}

// ExtractionError is the failure type for the extraction pipeline.
// Extraction failure is an expected, retryable outcome of web-UI
// volatility, not a programming error.
type ExtractionError struct {
	Reason      string
	Diagnostics Diagnostics
	Err         error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

const previewLength = 200

func preview(text string) string {
	if len(text) <= previewLength {
		return text
	}
	return text[:previewLength] + "..."
}
