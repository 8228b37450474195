package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapesRoot is returned when a relative path resolves outside the asset root.
var ErrPathEscapesRoot = errors.New("path escapes asset root")

// Uploader stores bytes under an object path and returns the path to record.
type Uploader interface {
	UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error)
}

type localUploader struct {
	rootDir string
}

func NewLocalUploader(rootDir string) Uploader {
	return &localUploader{rootDir: rootDir}
}

// UploadBytes writes data atomically below the root and returns objectPath in
// slash form, ready to be saved as an ImageRecord URL.
func (u *localUploader) UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst, err := SafeJoin(u.rootDir, objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return filepath.ToSlash(filepath.Clean(strings.TrimLeft(objectPath, `/\`))), nil
}

// SafeJoin resolves rel against root and refuses results outside root.
// rel is treated as relative even when it starts with a slash.
func SafeJoin(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve asset root: %w", err)
	}
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("empty asset path")
	}
	p := filepath.Join(absRoot, filepath.FromSlash(strings.TrimLeft(rel, `/\`)))
	if !strings.HasPrefix(p, absRoot+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	return p, nil
}
