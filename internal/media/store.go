// Package media stores uploaded images (user avatars, tour and news
// covers) and returns the public URL they are served from.
package media

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// MaxUploadBytes caps the size of a single upload.
const MaxUploadBytes = 10 << 20

var (
	// ErrUnsupportedImage is returned for files that are not JPEG, PNG,
	// GIF, TIFF or BMP images.
	ErrUnsupportedImage = errors.New("unsupported image format")
	// ErrTooLarge is returned when an upload exceeds MaxUploadBytes.
	ErrTooLarge = errors.New("image too large")
	// ErrForeignURL is returned by Remove for URLs the store did not issue.
	ErrForeignURL = errors.New("url not served by this store")
)

// Store persists an uploaded image under dir and returns its public URL.
// name is the client file name; only its extension is kept. Remove
// deletes an image by the URL Save returned.
type Store interface {
	Save(ctx context.Context, dir, name string, r io.Reader) (string, error)
	Remove(ctx context.Context, url string) error
}

// LocalStore writes images below root and builds URLs from baseURL.
// Images wider than maxWidth are downscaled, keeping the aspect ratio.
type LocalStore struct {
	root     string
	baseURL  string
	maxWidth int
}

func NewLocalStore(root, baseURL string, maxWidth int) *LocalStore {
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/"), maxWidth: maxWidth}
}

// Root is the directory the store writes into.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Save(ctx context.Context, dir, name string, r io.Reader) (string, error) {
	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		return "", ErrUnsupportedImage
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", ErrUnsupportedImage
	}
	if s.maxWidth > 0 && img.Bounds().Dx() > s.maxWidth {
		logrus.WithFields(logrus.Fields{"width": img.Bounds().Dx(), "max_width": s.maxWidth}).Debug("media: downscaling upload")
		img = imaging.Resize(img, s.maxWidth, 0, imaging.Lanczos)
	}

	id, err := randomName()
	if err != nil {
		return "", err
	}
	rel := path.Join(dir, time.Now().UTC().Format("2006/01"), id+strings.ToLower(filepath.Ext(name)))
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(full)
	if err != nil {
		return "", err
	}
	if err := imaging.Encode(f, img, format); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("encode image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return s.baseURL + "/" + rel, nil
}

// Remove deletes the file behind url. A file that is already gone is not
// an error.
func (s *LocalStore) Remove(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return ErrForeignURL
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func randomName() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
