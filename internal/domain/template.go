package domain

import (
	"maps"
	"slices"
)

// PageType names one of the closed set of page kinds a template may contain.
type PageType string

const (
	PageTypeLoading     PageType = "loading"
	PageTypeCountdown   PageType = "countdown"
	PageTypeCelebration PageType = "celebration"
	PageTypeMessage     PageType = "message"
	PageTypePhoto       PageType = "photo"
	PageTypeGame        PageType = "game"
	PageTypeLetter      PageType = "letter"
	PageTypeSlider      PageType = "slider"
	PageTypeFlipCards   PageType = "flip-cards"
	PageTypeTimeline    PageType = "timeline"
	PageTypeCharacter   PageType = "character"
)

var pageTypes = []PageType{
	PageTypeLoading,
	PageTypeCountdown,
	PageTypeCelebration,
	PageTypeMessage,
	PageTypePhoto,
	PageTypeGame,
	PageTypeLetter,
	PageTypeSlider,
	PageTypeFlipCards,
	PageTypeTimeline,
	PageTypeCharacter,
}

// PageTypes returns every known page type.
func PageTypes() []PageType {
	return slices.Clone(pageTypes)
}

// Valid reports whether t is part of the closed page type set.
func (t PageType) Valid() bool {
	return slices.Contains(pageTypes, t)
}

// Price is expressed in minor units of Currency.
type Price struct {
	Amount    int64
	CompareAt int64
	Currency  string
}

// TemplateDefinition is the immutable schema of one experience in the catalog.
// Pages are traversed in slice order.
type TemplateDefinition struct {
	ID              int
	Slug            string
	Title           string
	Category        string
	Description     string
	Price           Price
	BackgroundTrack string
	Pages           []TemplatePage
}

// TemplatePage describes one page of a template.
type TemplatePage struct {
	ID             string
	Type           PageType
	Title          string
	RequiredFields []string
	Config         map[string]any
}

// Page returns the page with id and its position.
func (t TemplateDefinition) Page(id string) (TemplatePage, int, bool) {
	for i, page := range t.Pages {
		if page.ID == id {
			return page, i, true
		}
	}
	return TemplatePage{}, -1, false
}

// PageIDs lists page ids in traversal order.
func (t TemplateDefinition) PageIDs() []string {
	ids := make([]string, 0, len(t.Pages))
	for _, page := range t.Pages {
		ids = append(ids, page.ID)
	}
	return ids
}

// Clone returns a deep copy so callers cannot mutate catalog state.
func (t TemplateDefinition) Clone() TemplateDefinition {
	out := t
	out.Pages = make([]TemplatePage, len(t.Pages))
	for i, page := range t.Pages {
		out.Pages[i] = page.Clone()
	}
	return out
}

// Clone returns a deep copy of the page.
func (p TemplatePage) Clone() TemplatePage {
	out := p
	out.RequiredFields = slices.Clone(p.RequiredFields)
	if p.Config != nil {
		out.Config = make(map[string]any, len(p.Config))
		for k, v := range p.Config {
			out.Config[k] = cloneValue(v)
		}
	}
	return out
}

// ConfigString returns a string config entry or fallback.
func (p TemplatePage) ConfigString(key, fallback string) string {
	if v, ok := p.Config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// ConfigBool returns a bool config entry or fallback.
func (p TemplatePage) ConfigBool(key string, fallback bool) bool {
	if v, ok := p.Config[key].(bool); ok {
		return v
	}
	return fallback
}

// ConfigKeys returns the sorted config keys.
func (p TemplatePage) ConfigKeys() []string {
	return slices.Sorted(maps.Keys(p.Config))
}
