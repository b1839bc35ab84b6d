package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// MediaPathParams identify the page field an uploaded file belongs to.
type MediaPathParams struct {
	GiftID   string
	PageID   string
	Field    string
	UploadID string
	// Ext includes the leading dot.
	Ext string
}

// BuildMediaPath returns gifts/{gift}/{page}/{field}/{upload}{ext}.
func BuildMediaPath(params MediaPathParams) (string, error) {
	giftID, err := validateSegment("giftID", params.GiftID)
	if err != nil {
		return "", err
	}
	pageID, err := validateSegment("pageID", params.PageID)
	if err != nil {
		return "", err
	}
	field, err := validateSegment("field", params.Field)
	if err != nil {
		return "", err
	}
	uploadID, err := validateSegment("uploadID", params.UploadID)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(strings.TrimSpace(params.Ext))
	if ext != "" && (!strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, "/\\") || strings.Count(ext, ".") != 1) {
		return "", fmt.Errorf("storage: invalid extension %q", params.Ext)
	}
	return fmt.Sprintf("gifts/%s/%s/%s/%s%s", giftID, pageID, field, uploadID, ext), nil
}

// PublicURL joins the bucket's public base URL and the object path.
// An empty base selects https://storage.googleapis.com/{bucket}.
func PublicURL(baseURL, bucket, object string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + url.PathEscape(bucket)
	}
	segments := strings.Split(path.Clean("/"+object), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return base + strings.Join(segments, "/")
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
