package domain

import (
	"slices"
	"time"
)

// PageContent maps field names to JSON-serialisable values for one page.
type PageContent map[string]any

// ContentBag holds the content of every page of a gift, keyed by page id.
// Keys for pages the template does not define are kept but never rendered.
type ContentBag map[string]PageContent

// Gift is one user's instantiation of a template.
type Gift struct {
	ID           string
	OwnerID      string
	TemplateID   int
	TemplateSlug string
	Title        string
	Content      ContentBag
	IsPublished  bool
	ShareID      string
	Revision     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PublishedAt  *time.Time
}

// Clone returns a deep copy of the gift.
func (g Gift) Clone() Gift {
	out := g
	out.Content = g.Content.Clone()
	if g.PublishedAt != nil {
		ts := *g.PublishedAt
		out.PublishedAt = &ts
	}
	return out
}

// Page returns the content for pageID, never nil.
func (b ContentBag) Page(pageID string) PageContent {
	if page, ok := b[pageID]; ok && page != nil {
		return page
	}
	return PageContent{}
}

// Clone deep-copies the bag including nested lists and maps.
func (b ContentBag) Clone() ContentBag {
	if b == nil {
		return ContentBag{}
	}
	out := make(ContentBag, len(b))
	for pageID, page := range b {
		out[pageID] = page.Clone()
	}
	return out
}

// Clone deep-copies the page content.
func (p PageContent) Clone() PageContent {
	out := make(PageContent, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// String returns the trimmed string value of field, or "".
func (p PageContent) String(field string) string {
	if v, ok := p[field].(string); ok {
		return v
	}
	return ""
}

// Strings returns field as a string list. Lists of mixed values keep only strings.
func (p PageContent) Strings(field string) []string {
	switch v := p[field].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Records returns field as a list of objects, for structured lists such as timeline entries.
func (p PageContent) Records(field string) []map[string]any {
	list, ok := p[field].([]any)
	if !ok {
		if typed, ok := p[field].([]map[string]any); ok {
			out := make([]map[string]any, len(typed))
			for i, rec := range typed {
				out[i] = cloneValue(rec).(map[string]any)
			}
			return out
		}
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if rec, ok := item.(map[string]any); ok {
			out = append(out, cloneValue(rec).(map[string]any))
		}
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = cloneValue(inner)
		}
		return out
	case PageContent:
		return typed.Clone()
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return slices.Clone(typed)
	case []map[string]any:
		out := make([]map[string]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner).(map[string]any)
		}
		return out
	default:
		return v
	}
}
