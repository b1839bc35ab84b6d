package editor

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FieldEditRequest proposes a new value for one field of one page.
type FieldEditRequest struct {
	PageID string `json:"pageId"`
	Field  string `json:"field"`
	Value  any    `json:"value"`
}

func (r FieldEditRequest) normalize() (FieldEditRequest, error) {
	r.PageID = strings.TrimSpace(r.PageID)
	r.Field = strings.TrimSpace(r.Field)
	if r.PageID == "" || r.Field == "" {
		return r, fmt.Errorf("%w: page and field are required", ErrInvalidEdit)
	}
	r.Value = normalizeValue(r.Value)
	return r, nil
}

// normalizeValue composes text to NFC so equal-looking input compares equal.
// Containers are copied; the caller's value is never retained.
func normalizeValue(v any) any {
	switch typed := v.(type) {
	case string:
		return norm.NFC.String(typed)
	case []string:
		out := make([]string, len(typed))
		for i, s := range typed {
			out[i] = norm.NFC.String(s)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[k] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
