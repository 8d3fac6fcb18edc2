// Package media stores images sent inline as data: URLs and serves them back.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrUnsupported is returned for data URLs that are not base64-encoded images
// of a known type.
var ErrUnsupported = errors.New("media: unsupported data URL")

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Config controls where uploads are written and how they are addressed.
type Config struct {
	Dir     string // directory uploads are written to
	BaseURL string // public prefix of served files, e.g. "http://localhost:5000/media"
}

// DefaultConfig returns a Config writing to ./uploads.
func DefaultConfig() Config {
	return Config{
		Dir:     "uploads",
		BaseURL: "/media",
	}
}

// Disk is an uploader backed by a local directory.
type Disk struct {
	dir     string
	baseURL string
}

// NewDisk creates the upload directory if needed.
func NewDisk(cfg Config) (*Disk, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create dir: %w", err)
	}
	return &Disk{dir: cfg.Dir, baseURL: strings.TrimRight(cfg.BaseURL, "/")}, nil
}

// Upload decodes dataURL, writes it under a random name and returns its
// public URL.
func (d *Disk) Upload(ctx context.Context, dataURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext, data, err := decodeDataURL(dataURL)
	if err != nil {
		return "", err
	}

	name := uuid.New().String() + ext
	if err := os.WriteFile(filepath.Join(d.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", name, err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "media",
		"file":      name,
		"bytes":     len(data),
	}).Debug("image stored")
	return d.baseURL + "/" + name, nil
}

// Handler serves stored files. Mount it with the base URL's path stripped.
func (d *Disk) Handler() http.Handler {
	return http.FileServer(http.Dir(d.dir))
}

// decodeDataURL parses "data:image/<type>;base64,<payload>".
func decodeDataURL(s string) (ext string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrUnsupported
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrUnsupported
	}
	mimeType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return "", nil, fmt.Errorf("%w: encoding must be base64", ErrUnsupported)
	}
	ext, ok = extensions[strings.ToLower(mimeType)]
	if !ok {
		return "", nil, fmt.Errorf("%w: type %q", ErrUnsupported, mimeType)
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty image", ErrUnsupported)
	}
	return ext, data, nil
}
