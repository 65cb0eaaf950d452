package upload

import (
	"mime"
	"path/filepath"
	"strings"

	"vaani/internal/apperr"
)

const DefaultMaxBytes int64 = 10 << 20

var allowedExtensions = map[string]struct{}{
	"wav": {},
	"mp3": {},
	"ogg": {},
}

var allowedMimeTypes = map[string]struct{}{
	"audio/wav":  {},
	"audio/mpeg": {},
	"audio/ogg":  {},
}

// Accepted describes an upload that passed metadata validation.
type Accepted struct {
	Name      string
	Extension string
	MimeType  string
	Size      int64
}

type Validator struct {
	MaxBytes int64
}

func NewValidator(maxBytes int64) Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return Validator{MaxBytes: maxBytes}
}

// Validate decides admissibility from declared metadata only. It checks the
// extension, then the declared MIME type, then the size.
func (v Validator) Validate(fileName, mimeType string, size int64) (Accepted, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return Accepted{}, apperr.New(apperr.KindInvalidFile, "uploaded file has no name")
	}

	ext := Extension(fileName)
	if _, ok := allowedExtensions[ext]; !ok {
		return Accepted{}, apperr.New(apperr.KindUnsupportedFormat, "unsupported file format, allowed: wav, mp3, ogg")
	}

	normalized := normalizeMimeType(mimeType)
	if _, ok := allowedMimeTypes[normalized]; !ok {
		return Accepted{}, apperr.Newf(apperr.KindInvalidMimeType, "invalid MIME type %q", strings.TrimSpace(mimeType))
	}

	maxBytes := v.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if size > maxBytes {
		return Accepted{}, apperr.Newf(apperr.KindPayloadTooLarge, "file exceeds %d bytes", maxBytes)
	}
	if size <= 0 {
		return Accepted{}, apperr.New(apperr.KindInvalidFile, "uploaded file is empty")
	}

	return Accepted{
		Name:      SanitizeFilename(fileName),
		Extension: ext,
		MimeType:  normalized,
		Size:      size,
	}, nil
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// SanitizeFilename replaces every character outside [A-Za-z0-9._-] with '_'.
// Applying it twice yields the same result.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isSafeFilenameRune(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	if b.Len() == 0 {
		return "audio"
	}
	return b.String()
}

func isSafeFilenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '-', r == '_':
		return true
	default:
		return false
	}
}

func normalizeMimeType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(value); err == nil {
		return mediaType
	}
	return strings.ToLower(value)
}
