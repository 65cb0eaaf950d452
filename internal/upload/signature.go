package upload

import (
	"github.com/gabriel-vasile/mimetype"

	"vaani/internal/apperr"
)

var signatureTypes = map[string][]string{
	"wav": {"audio/wav"},
	"mp3": {"audio/mpeg"},
	"ogg": {"audio/ogg", "application/ogg"},
}

// CheckSignature sniffs the saved file and rejects content whose magic bytes
// do not match the declared extension.
func CheckSignature(path, ext string) error {
	want, ok := signatureTypes[ext]
	if !ok {
		return apperr.New(apperr.KindUnsupportedFormat, "unsupported file format, allowed: wav, mp3, ogg")
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "read file signature", err)
	}
	for m := detected; m != nil; m = m.Parent() {
		for _, candidate := range want {
			if m.Is(candidate) {
				return nil
			}
		}
	}
	return apperr.Newf(apperr.KindInvalidFile, "file content (%s) does not match .%s", detected.String(), ext)
}
