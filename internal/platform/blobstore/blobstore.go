// Package blobstore archives exported documents. An in-memory store serves
// development and tests; MinioStore writes to any S3-compatible bucket.
package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinixnote/clinixnote/internal/platform/auth"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxFileSize is the largest document accepted (20 MB).
const MaxFileSize = 20 * 1024 * 1024

// AllowedContentTypes lists what may be archived.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
}

// BlobMetadata describes an archived document.
type BlobMetadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type BlobStore interface {
	Put(ctx context.Context, meta BlobMetadata, content []byte) (*BlobMetadata, error)
	Get(ctx context.Context, id string) ([]byte, *BlobMetadata, error)
}

// prepare validates meta and fills the server-assigned fields.
func prepare(meta BlobMetadata, content []byte) (BlobMetadata, error) {
	if meta.FileName == "" {
		return meta, ErrMissingFileName
	}
	if !AllowedContentTypes[meta.ContentType] {
		return meta, ErrInvalidContentType
	}
	if len(content) > MaxFileSize {
		return meta, ErrFileTooLarge
	}
	meta.ID = uuid.New().String()
	meta.Size = int64(len(content))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(content))
	meta.CreatedAt = time.Now().UTC()
	return meta, nil
}

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe BlobStore for tests and development.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryBlobStore) Put(_ context.Context, meta BlobMetadata, content []byte) (*BlobMetadata, error) {
	meta, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}
	data := append([]byte(nil), content...)

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, id string) ([]byte, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return append([]byte(nil), blob.content...), &meta, nil
}

// Handler serves archived documents for download.
type Handler struct {
	store BlobStore
}

func NewHandler(store BlobStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/exports/:id", h.Download, auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
}

// Download serves an archived document to the user who exported it. Admins
// may fetch any document.
func (h *Handler) Download(c echo.Context) error {
	ctx := c.Request().Context()
	data, meta, err := h.store.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if meta.CreatedBy != auth.UserIDFromContext(ctx) && !auth.HasAnyRole(auth.RolesFromContext(ctx), auth.RoleAdmin) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBlobNotFound.Error())
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, meta.FileName))
	return c.Blob(http.StatusOK, meta.ContentType, data)
}
