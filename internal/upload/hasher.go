package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"vaani/internal/apperr"
)

const hashChunkSize = 32 << 10

// HashFile returns the hex SHA-256 of the file's full content, read in fixed
// chunks so memory stays bounded.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, "open file for hashing", err)
	}
	defer func() { _ = f.Close() }()

	return HashReader(f)
}

func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", apperr.Wrap(apperr.KindIO, "read file for hashing", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
