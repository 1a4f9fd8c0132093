package domain

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQueryLength caps the characters accepted from a user query.
	MaxQueryLength = 1000
	// MinDocumentLength is the shortest extracted text worth indexing.
	MinDocumentLength = 50
)

// ValidateQuery checks a raw user query.
func ValidateQuery(text string) error {
	t := strings.TrimSpace(text)
	if t == "" {
		return NewValidationError("query", text, ErrEmptyQuery)
	}
	if n := utf8.RuneCountInString(t); n > MaxQueryLength {
		return NewValidationError("query", fmt.Sprintf("%d chars", n), ErrQueryTooLong)
	}
	return nil
}

// ValidateSourceURL checks that u is an absolute http(s) URL.
func ValidateSourceURL(u string) error {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return NewValidationError("url", u, ErrInvalidURL)
	}
	return nil
}

// ValidateDocument checks an extracted document before segmentation.
func ValidateDocument(d Document) error {
	if err := ValidateSourceURL(d.URL); err != nil {
		return err
	}
	t := strings.TrimSpace(d.Text)
	if t == "" {
		return NewValidationError("text", d.URL, ErrEmptyDocument)
	}
	if utf8.RuneCountInString(t) < MinDocumentLength {
		return NewValidationError("text", d.URL, ErrShortDocument)
	}
	return nil
}
