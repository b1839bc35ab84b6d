package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	pstorage "github.com/giftcraft/experience/internal/platform/storage"
)

var (
	// ErrMediaInvalidInput indicates a missing field or an unsupported content type.
	ErrMediaInvalidInput = errors.New("media: invalid input")
	// ErrMediaTooLarge indicates the file exceeds the upload limit.
	ErrMediaTooLarge = errors.New("media: file too large")
	// ErrMediaUnavailable indicates the object store failed; callers may retry.
	ErrMediaUnavailable = errors.New("media: storage unavailable")
)

const defaultMaxMediaBytes = int64(20 * 1024 * 1024)

var mediaExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"audio/mpeg": ".mp3",
}

// MediaServiceDeps wires dependencies for the media service implementation.
type MediaServiceDeps struct {
	// Gifts is used to check the caller owns the target gift.
	Gifts         ContentService
	Writer        pstorage.Writer
	Bucket        string
	PublicBaseURL string
	MaxBytes      int64
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(context.Context, string, map[string]any)
}

type mediaService struct {
	gifts         ContentService
	writer        pstorage.Writer
	bucket        string
	publicBaseURL string
	maxBytes      int64
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

var _ MediaService = (*mediaService)(nil)

// NewMediaService constructs a MediaService writing through deps.Writer.
func NewMediaService(deps MediaServiceDeps) (MediaService, error) {
	if deps.Gifts == nil {
		return nil, errors.New("media service: content service is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("media service: storage writer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("media service: bucket is required")
	}
	maxBytes := deps.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMediaBytes
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &mediaService{
		gifts:         deps.Gifts,
		writer:        deps.Writer,
		bucket:        bucket,
		publicBaseURL: deps.PublicBaseURL,
		maxBytes:      maxBytes,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

// Upload stores one file for a page field and returns its public URL.
// It does not touch the gift content; callers propagate the URL with a field edit.
func (s *mediaService) Upload(ctx context.Context, cmd UploadMediaCommand) (UploadedMedia, error) {
	contentType, ext, err := s.validate(cmd)
	if err != nil {
		s.logger(ctx, "media.upload.rejected", map[string]any{"giftId": cmd.GiftID, "error": err.Error()})
		return UploadedMedia{}, err
	}
	gift, err := s.gifts.GetGift(ctx, cmd.GiftID)
	if err != nil {
		return UploadedMedia{}, err
	}

	objectPath, err := pstorage.BuildMediaPath(pstorage.MediaPathParams{
		GiftID:   gift.ID,
		PageID:   cmd.PageID,
		Field:    cmd.Field,
		UploadID: s.newID(),
		Ext:      ext,
	})
	if err != nil {
		return UploadedMedia{}, fmt.Errorf("%w: %v", ErrMediaInvalidInput, err)
	}

	body := &limitedReader{r: cmd.Body, remaining: s.maxBytes}
	written, err := s.writer.Write(ctx, pstorage.Object{
		Bucket:      s.bucket,
		Path:        objectPath,
		ContentType: contentType,
		Metadata: map[string]string{
			"giftId":     gift.ID,
			"pageId":     cmd.PageID,
			"field":      cmd.Field,
			"uploadedAt": s.clock().Format(time.RFC3339),
		},
	}, body)
	if err != nil {
		if errors.Is(err, errMediaLimit) {
			return UploadedMedia{}, fmt.Errorf("%w: limit is %d bytes", ErrMediaTooLarge, s.maxBytes)
		}
		s.logger(ctx, "media.upload.failed", map[string]any{"giftId": gift.ID, "path": objectPath, "error": err.Error()})
		return UploadedMedia{}, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	media := UploadedMedia{
		URL:         pstorage.PublicURL(s.publicBaseURL, s.bucket, objectPath),
		ObjectPath:  objectPath,
		ContentType: contentType,
		Size:        written,
	}
	s.logger(ctx, "media.upload.stored", map[string]any{"giftId": gift.ID, "path": objectPath, "size": written})
	return media, nil
}

func (s *mediaService) validate(cmd UploadMediaCommand) (string, string, error) {
	if strings.TrimSpace(cmd.GiftID) == "" || strings.TrimSpace(cmd.PageID) == "" || strings.TrimSpace(cmd.Field) == "" {
		return "", "", fmt.Errorf("%w: gift, page and field are required", ErrMediaInvalidInput)
	}
	if cmd.Body == nil {
		return "", "", fmt.Errorf("%w: file body is required", ErrMediaInvalidInput)
	}
	if cmd.Size > s.maxBytes {
		return "", "", fmt.Errorf("%w: %d bytes exceeds %d", ErrMediaTooLarge, cmd.Size, s.maxBytes)
	}

	contentType := strings.TrimSpace(cmd.ContentType)
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(cmd.FileName)))
	}
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = strings.ToLower(parsed)
	}
	ext, ok := mediaExtensions[contentType]
	if !ok {
		return "", "", fmt.Errorf("%w: content type %q is not allowed", ErrMediaInvalidInput, contentType)
	}
	return contentType, ext, nil
}

var errMediaLimit = errors.New("media: size limit reached")

type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errMediaLimit
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errMediaLimit
	}
	return n, err
}
