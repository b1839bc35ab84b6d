package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/giftcraft/experience/internal/platform/storage"
)

func newMediaFixture(t *testing.T, maxBytes int64) (MediaService, *storage.MemoryWriter, Gift, context.Context) {
	t.Helper()
	content := newContentFixture(t)
	ctx := authorCtx("u1")
	gift, err := content.svc.CreateGift(ctx, CreateGiftCommand{TemplateSlug: "birthday-countdown"})
	if err != nil {
		t.Fatalf("CreateGift: %v", err)
	}
	writer := storage.NewMemoryWriter()
	svc, err := NewMediaService(MediaServiceDeps{
		Gifts:       content.svc,
		Writer:      writer,
		Bucket:      "gift-media",
		MaxBytes:    maxBytes,
		Clock:       func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "upl1" },
	})
	if err != nil {
		t.Fatalf("NewMediaService: %v", err)
	}
	return svc, writer, gift, ctx
}

func TestMediaServiceUpload(t *testing.T) {
	svc, writer, gift, ctx := newMediaFixture(t, 0)

	media, err := svc.Upload(ctx, UploadMediaCommand{
		GiftID:   gift.ID,
		PageID:   "memories",
		Field:    "photos",
		FileName: "beach.JPG",
		Body:     strings.NewReader("jpeg-bytes"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	wantPath := "gifts/" + gift.ID + "/memories/photos/upl1.jpg"
	if media.ObjectPath != wantPath {
		t.Fatalf("unexpected path %s", media.ObjectPath)
	}
	if media.URL != "https://storage.googleapis.com/gift-media/"+wantPath {
		t.Fatalf("unexpected url %s", media.URL)
	}
	if media.ContentType != "image/jpeg" || media.Size != 10 {
		t.Fatalf("unexpected media %+v", media)
	}
	if body, _, ok := writer.Object("gift-media", wantPath); !ok || string(body) != "jpeg-bytes" {
		t.Fatalf("object not stored: %q", body)
	}
}

func TestMediaServiceRejectsInvalidUploads(t *testing.T) {
	svc, writer, gift, ctx := newMediaFixture(t, 8)

	tests := []struct {
		name string
		cmd  UploadMediaCommand
		want error
	}{
		{"missing field", UploadMediaCommand{GiftID: gift.ID, PageID: "memories", Body: strings.NewReader("x"), ContentType: "image/png"}, ErrMediaInvalidInput},
		{"bad type", UploadMediaCommand{GiftID: gift.ID, PageID: "memories", Field: "photos", ContentType: "application/x-msdownload", Body: strings.NewReader("x")}, ErrMediaInvalidInput},
		{"declared too large", UploadMediaCommand{GiftID: gift.ID, PageID: "memories", Field: "photos", ContentType: "image/png", Size: 9, Body: strings.NewReader("x")}, ErrMediaTooLarge},
		{"actually too large", UploadMediaCommand{GiftID: gift.ID, PageID: "memories", Field: "photos", ContentType: "image/png", Body: bytes.NewReader(make([]byte, 9))}, ErrMediaTooLarge},
		{"other owner", UploadMediaCommand{GiftID: "gft_other", PageID: "memories", Field: "photos", ContentType: "image/png", Body: strings.NewReader("x")}, ErrGiftNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Upload(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	writer.Err = errors.New("gcs down")
	_, err := svc.Upload(ctx, UploadMediaCommand{GiftID: gift.ID, PageID: "memories", Field: "photos", ContentType: "image/png; charset=binary", Body: strings.NewReader("ok")})
	if !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
