package upload

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"vaani/internal/apperr"
)

// TempStore materializes uploads into per-request private directories.
type TempStore struct {
	Dir string
}

// TempFile is one request's scoped copy of its upload. Release removes it.
type TempFile struct {
	dir  string
	path string
	size int64
	once sync.Once
	err  error
}

// Materialize writes r into a fresh private directory under the store's base
// directory. name must already be sanitized.
func (s TempStore) Materialize(r io.Reader, name string) (*TempFile, error) {
	dir, err := os.MkdirTemp(s.Dir, "vaani-upload-*")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "create temp directory", err)
	}

	tf := &TempFile{dir: dir, path: filepath.Join(dir, SanitizeFilename(name))}
	f, err := os.OpenFile(tf.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		_ = tf.Release()
		return nil, apperr.Wrap(apperr.KindIO, "create temp file", err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		_ = tf.Release()
		return nil, apperr.Wrap(apperr.KindIO, "write temp file", copyErr)
	}
	if closeErr != nil {
		_ = tf.Release()
		return nil, apperr.Wrap(apperr.KindIO, "close temp file", closeErr)
	}
	tf.size = n
	return tf, nil
}

func (t *TempFile) Path() string { return t.path }

func (t *TempFile) Size() int64 { return t.size }

// Release removes the backing directory. Only the first call does any work.
func (t *TempFile) Release() error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		t.err = os.RemoveAll(t.dir)
	})
	return t.err
}
