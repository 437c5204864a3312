// Package blobstore stores chat attachments on local disk and turns their
// storage paths into public URLs served by the static /uploads mount.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
)

var (
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("only png, jpeg and jpg images are allowed")
	ErrEmptyFile          = errors.New("file is empty")
	ErrInvalidPath        = errors.New("invalid storage path")
)

// AllowedContentTypes maps accepted sniffed MIME types to the extension used on disk.
var AllowedContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
}

// allowedExtensions are the client file names we accept.
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpeg": true,
	".jpg":  true,
}

// Stored describes a persisted attachment.
type Stored struct {
	Path        string `json:"path"` // relative to the upload root, forward slashes
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
}

// Store persists attachments under a namespace such as "chats/<id>".
type Store interface {
	Save(ctx context.Context, namespace, fileName string, content io.Reader) (*Stored, error)
	Remove(ctx context.Context, path string) error
}

// LocalStore writes files below root. URLs are baseURL + "/" + mount + "/" + path.
type LocalStore struct {
	root    string
	mount   string
	baseURL string
	maxSize int64
}

func NewLocalStore(root, mount, baseURL string, maxSize int64) *LocalStore {
	return &LocalStore{
		root:    root,
		mount:   strings.Trim(mount, "/"),
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
	}
}

// Root is the directory served by the static mount.
func (s *LocalStore) Root() string {
	return s.root
}

// Save validates the declared extension and the sniffed content type, then
// writes the file under a fresh ULID name. Partial writes are removed.
func (s *LocalStore) Save(ctx context.Context, namespace, fileName string, content io.Reader) (*Stored, error) {
	if !allowedExtensions[strings.ToLower(filepath.Ext(fileName))] {
		return nil, ErrInvalidContentType
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyFile
	}
	head = head[:n]

	ctype := http.DetectContentType(head)
	ext, ok := AllowedContentTypes[ctype]
	if !ok {
		return nil, ErrInvalidContentType
	}

	rel, err := cleanNamespace(namespace)
	if err != nil {
		return nil, err
	}
	rel = filepath.Join(rel, strings.ToLower(ulid.Make().String())+ext)
	abs := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}

	h := sha256.New()
	body := io.MultiReader(bytes.NewReader(head), content)
	written, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(body, s.maxSize+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		os.Remove(abs)
		return nil, fmt.Errorf("write attachment: %w", err)
	case written > s.maxSize:
		os.Remove(abs)
		return nil, ErrFileTooLarge
	case closeErr != nil:
		os.Remove(abs)
		return nil, fmt.Errorf("close attachment: %w", closeErr)
	}

	path := filepath.ToSlash(rel)
	return &Stored{
		Path:        path,
		URL:         PublicURL(s.baseURL, s.mount+"/"+path),
		ContentType: ctype,
		Size:        written,
		Hash:        hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (s *LocalStore) Remove(_ context.Context, path string) error {
	rel, err := cleanNamespace(path)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return nil
}

// PublicURL joins base and a storage path, normalising back-slashes so
// paths produced on any platform become valid URL paths.
func PublicURL(base, path string) string {
	path = strings.TrimLeft(strings.ReplaceAll(path, `\`, "/"), "/")
	return strings.TrimRight(base, "/") + "/" + path
}

func cleanNamespace(p string) (string, error) {
	p = filepath.Clean(filepath.FromSlash(strings.ReplaceAll(p, `\`, "/")))
	if p == "." || filepath.IsAbs(p) || p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return p, nil
}
