// Package artifact decodes, inspects and saves the generated codebase archive.
package artifact

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"appgen/internal/util"
)

// DefaultName is the file name the service suggests for the archive.
const DefaultName = "codebase.zip"

// ErrDecode is matched (errors.Is) by every payload decoding failure.
var ErrDecode = errors.New("artifact: invalid encoded payload")

// DecodeError reports where a payload stopped being valid base64.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v at offset %d: %v", ErrDecode, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) hold for any *DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Decode converts a standard, padded base64 payload to bytes. Characters
// outside the alphabet, including line breaks, are rejected rather than skipped.
func Decode(payload string) ([]byte, error) {
	if i := strings.IndexAny(payload, "\r\n"); i >= 0 {
		return nil, &DecodeError{Offset: int64(i), Err: base64.CorruptInputError(i)}
	}
	b, err := base64.StdEncoding.Strict().DecodeString(payload)
	if err != nil {
		var off int64
		var cie base64.CorruptInputError
		if errors.As(err, &cie) {
			off = int64(cie)
		}
		return nil, &DecodeError{Offset: off, Err: err}
	}
	return b, nil
}

// Encode is the inverse of Decode.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Materialize saves b as dir/suggestedName in one atomic write and returns the
// final path. Failures are returned as-is; callers decide whether to retry.
func Materialize(b []byte, dir, suggestedName string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := suggestedName
	if name == "" {
		name = DefaultName
	}
	path := filepath.Join(dir, util.SanitizeFilename(name))

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("create pending archive file: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	if _, err := pf.Write(b); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace archive: %w", err)
	}
	return path, nil
}

// Entry is one file inside the archive.
type Entry struct {
	Name string
	Size uint64
}

// Inspect lists the regular files in a zip archive, in archive order.
func Inspect(b []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: f.Name, Size: f.UncompressedSize64})
	}
	return entries, nil
}
