package domain

import (
	"reflect"
	"strings"
)

// PageCompletion is one row of the completion matrix.
type PageCompletion struct {
	PageID   string
	Title    string
	Complete bool
	Missing  []string
}

// Completion derives the completion matrix of bag against tpl in page order.
// A page with no required fields is always complete.
func Completion(tpl TemplateDefinition, bag ContentBag) []PageCompletion {
	out := make([]PageCompletion, 0, len(tpl.Pages))
	for _, page := range tpl.Pages {
		content := bag.Page(page.ID)
		row := PageCompletion{PageID: page.ID, Title: page.Title, Complete: true}
		for _, field := range page.RequiredFields {
			if !IsPresent(content[field]) {
				row.Complete = false
				row.Missing = append(row.Missing, field)
			}
		}
		out = append(out, row)
	}
	return out
}

// IncompletePages returns the ids of incomplete pages in matrix order.
func IncompletePages(matrix []PageCompletion) []string {
	var ids []string
	for _, row := range matrix {
		if !row.Complete {
			ids = append(ids, row.PageID)
		}
	}
	return ids
}

// IsPresent reports whether a field value counts as populated: strings must be
// non-blank, lists and maps non-empty. Numbers and booleans always count.
func IsPresent(v any) bool {
	switch typed := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(typed) != ""
	case []string:
		return len(typed) > 0
	case []any:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	case PageContent:
		return len(typed) > 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
