package review

import (
	"path/filepath"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/redliner/pkg/domain"
)

var (
	// DefaultMaxUploadSize is 10MB.
	DefaultMaxUploadSize int64 = 10 << 20
	// DefaultAllowedTypes are the extensions the bundled text extractor reads.
	DefaultAllowedTypes = []string{".txt", ".md"}
)

// Upload is a document submitted for review.
type Upload struct {
	UserID      string
	Filename    string
	ContentType string
	Data        []byte
}

// UploadPolicy bounds what may be submitted.
type UploadPolicy struct {
	MaxSize      int64
	AllowedTypes []string
}

// DefaultUploadPolicy returns the defaults.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{MaxSize: DefaultMaxUploadSize, AllowedTypes: slices.Clone(DefaultAllowedTypes)}
}

// Validate rejects uploads before any session exists and returns the cleaned filename.
func (p UploadPolicy) Validate(u Upload) (string, error) {
	if strings.TrimSpace(u.UserID) == "" {
		return "", &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	name := SanitizeFilename(u.Filename)
	if name == "" {
		return "", &domain.ValidationError{Field: "file", Reason: "filename is required"}
	}
	if len(u.Data) == 0 {
		return "", &domain.ValidationError{Field: "file", Reason: "is empty"}
	}
	if p.MaxSize > 0 && int64(len(u.Data)) > p.MaxSize {
		return "", &domain.ValidationError{Field: "file", Reason: "exceeds the maximum upload size"}
	}

	ext := strings.ToLower(filepath.Ext(name))
	if len(p.AllowedTypes) > 0 && !slices.ContainsFunc(p.AllowedTypes, func(t string) bool {
		return strings.EqualFold(normalizeExt(t), ext)
	}) {
		return "", &domain.ValidationError{Field: "file", Reason: "file type " + ext + " is not allowed"}
	}
	if !utf8.Valid(u.Data) {
		return "", &domain.ValidationError{Field: "file", Reason: "contains invalid UTF-8 sequences"}
	}
	return name, nil
}

func normalizeExt(t string) string {
	t = strings.TrimSpace(t)
	if !strings.HasPrefix(t, ".") {
		t = "." + t
	}
	return t
}

// SanitizeFilename keeps the base name and strips control characters,
// so names are safe to log and to echo back in headers.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' {
			return -1
		}
		return r
	}, name)
}
