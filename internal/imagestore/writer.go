// Package imagestore resolves event attachments into files under the
// public image directory. Writes are content-addressed: a destination
// is only rewritten when its size or hash differs from the source, so
// repeated pipeline runs leave unchanged files (and their mtimes)
// alone, which matters for downstream HTTP caching.
package imagestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

// Status reports the outcome of a content-addressed write.
type Status int

const (
	// StatusWritten means the destination was created or replaced.
	StatusWritten Status = iota
	// StatusUnchanged means the destination already held identical content.
	StatusUnchanged
)

func (s Status) String() string {
	switch s {
	case StatusWritten:
		return "written"
	case StatusUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// WriteFileIfChanged copies src to dest unless dest already exists
// with identical content (size pre-check, then truncated SHA-256).
// Parent directories are created as needed.
func WriteFileIfChanged(dest, src string) (Status, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return StatusWritten, err
	}

	if destInfo, err := os.Stat(dest); err == nil && destInfo.Size() == srcInfo.Size() {
		srcHash, herr := hashFile(src)
		if herr == nil {
			destHash, herr2 := hashFile(dest)
			if herr2 == nil && srcHash == destHash {
				return StatusUnchanged, nil
			}
		}
		// If hashing fails, fall through to copying.
	}

	in, err := os.Open(src)
	if err != nil {
		return StatusWritten, err
	}
	defer in.Close()

	if err := writeWhole(dest, in); err != nil {
		return StatusWritten, err
	}
	return StatusWritten, nil
}

// WriteBytesIfChanged writes data to dest unless dest already exists
// with identical content.
func WriteBytesIfChanged(dest string, data []byte) (Status, error) {
	if destInfo, err := os.Stat(dest); err == nil && destInfo.Size() == int64(len(data)) {
		destHash, herr := hashFile(dest)
		if herr == nil && destHash == hashBytes(data) {
			return StatusUnchanged, nil
		}
	}

	if err := writeWhole(dest, bytes.NewReader(data)); err != nil {
		return StatusWritten, err
	}
	return StatusWritten, nil
}

// writeWhole streams r into dest via a temp file + rename so readers
// never observe a partially written image.
func writeWhole(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".img-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}

// hashFile returns the first 16 hex characters of the file's SHA-256,
// enough for collision-acceptable dedup at this scale.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
