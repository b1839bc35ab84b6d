// Package storage writes gift media objects to Cloud Storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
)

const mediaCacheControl = "public, max-age=31536000, immutable"

// Object describes a write request.
type Object struct {
	Bucket      string
	Path        string
	ContentType string
	Metadata    map[string]string
}

// Writer stores object bodies.
type Writer interface {
	Write(ctx context.Context, obj Object, body io.Reader) (int64, error)
}

// GCSWriter streams objects into Cloud Storage.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter wraps a Cloud Storage client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// Write uploads body. A failed copy cancels the upload so no partial object is committed.
func (w *GCSWriter) Write(ctx context.Context, obj Object, body io.Reader) (int64, error) {
	if err := obj.validate(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ow := w.client.Bucket(obj.Bucket).Object(obj.Path).NewWriter(ctx)
	ow.ContentType = obj.ContentType
	ow.CacheControl = mediaCacheControl
	ow.Metadata = obj.Metadata

	n, err := io.Copy(ow, body)
	if err != nil {
		cancel()
		_ = ow.Close()
		return 0, fmt.Errorf("storage writer: copy %s: %w", obj.Path, err)
	}
	if err := ow.Close(); err != nil {
		return 0, fmt.Errorf("storage writer: finalise %s: %w", obj.Path, err)
	}
	return n, nil
}

// MemoryWriter keeps objects in memory for local runs and tests.
type MemoryWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	// Err, when set, fails every write.
	Err error
}

// NewMemoryWriter returns an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *MemoryWriter) Write(_ context.Context, obj Object, body io.Reader) (int64, error) {
	if err := obj.validate(); err != nil {
		return 0, err
	}
	if m.Err != nil {
		return 0, m.Err
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, body)
	if err != nil {
		return 0, fmt.Errorf("storage writer: copy %s: %w", obj.Path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := obj.Bucket + "/" + obj.Path
	m.objects[key] = buf.Bytes()
	m.types[key] = obj.ContentType
	return n, nil
}

// Object returns a stored body and content type.
func (m *MemoryWriter) Object(bucket, path string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucket + "/" + path
	body, ok := m.objects[key]
	return body, m.types[key], ok
}

func (o Object) validate() error {
	if strings.TrimSpace(o.Bucket) == "" || strings.TrimSpace(o.Path) == "" {
		return errors.New("storage writer: bucket and path are required")
	}
	return nil
}
