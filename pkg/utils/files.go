package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"exprc/pkg/compiler"
)

// ErrNotAFile is returned when a source path names a directory or other
// non-regular file.
var ErrNotAFile = errors.New("not a regular file")

func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	// Convert to absolute path (resolves ../../ and cleans the path)
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	// Get the directory containing the file
	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// ReadSource reads the file at path and decodes it from the named IANA
// charset (UTF-8 when empty) into a Go string.
func ReadSource(path, charset string) (string, error) {
	fullPath, _, err := GetPathInfo(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotAFile, path)
	}

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return "", err
	}
	enc, name, err := compiler.ResolveEncoding(charset)
	if err != nil {
		return "", err
	}
	text, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode %s as %s: %w", path, name, err)
	}
	return string(text), nil
}

// WriteOutput writes data to path, or to stdout when path is "" or "-".
func WriteOutput(path string, data []byte, stdout io.Writer) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
