// Package catalog holds the closed, versioned set of experience templates.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/giftcraft/experience/internal/domain"
)

var (
	// ErrTemplateNotFound is returned for unknown slugs or ids.
	ErrTemplateNotFound = errors.New("catalog: template not found")
	// ErrInvalidCatalog wraps every structural problem found by Validate.
	ErrInvalidCatalog = errors.New("catalog: invalid definition")
)

//go:embed templates.yaml
var embeddedTemplates []byte

// Catalog is a read-only registry of template definitions. It is safe for concurrent use.
type Catalog struct {
	templates []domain.TemplateDefinition
	bySlug    map[string]int
	byID      map[int]int
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(embeddedTemplates)
	})
	return defaultCatalog, defaultErr
}

// MustDefault is Default for program start-up; it panics on a broken embedded catalog.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a YAML catalog document from r.
func Load(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML catalog document.
func Parse(raw []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	defs := make([]domain.TemplateDefinition, 0, len(doc.Templates))
	for _, tpl := range doc.Templates {
		defs = append(defs, tpl.toDomain())
	}
	return New(defs)
}

// New builds a catalog from definitions after validating them.
func New(defs []domain.TemplateDefinition) (*Catalog, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}
	c := &Catalog{
		templates: make([]domain.TemplateDefinition, len(defs)),
		bySlug:    make(map[string]int, len(defs)),
		byID:      make(map[int]int, len(defs)),
	}
	for i, def := range defs {
		c.templates[i] = def.Clone()
	}
	slices.SortStableFunc(c.templates, func(a, b domain.TemplateDefinition) int { return a.ID - b.ID })
	for i, def := range c.templates {
		c.bySlug[def.Slug] = i
		c.byID[def.ID] = i
	}
	return c, nil
}

// GetBySlug returns a copy of the template with slug.
func (c *Catalog) GetBySlug(slug string) (domain.TemplateDefinition, error) {
	idx, ok := c.bySlug[strings.TrimSpace(slug)]
	if !ok {
		return domain.TemplateDefinition{}, fmt.Errorf("%w: slug %q", ErrTemplateNotFound, slug)
	}
	return c.templates[idx].Clone(), nil
}

// GetByID returns a copy of the template with id.
func (c *Catalog) GetByID(id int) (domain.TemplateDefinition, error) {
	idx, ok := c.byID[id]
	if !ok {
		return domain.TemplateDefinition{}, fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	return c.templates[idx].Clone(), nil
}

// ListAll returns copies of every template ordered by id.
func (c *Catalog) ListAll() []domain.TemplateDefinition {
	out := make([]domain.TemplateDefinition, len(c.templates))
	for i, def := range c.templates {
		out[i] = def.Clone()
	}
	return out
}

// Len reports the number of templates.
func (c *Catalog) Len() int { return len(c.templates) }

// Validate checks ids, slugs, page ids, page types and required field names.
// Every problem is reported, joined under ErrInvalidCatalog.
func Validate(defs []domain.TemplateDefinition) error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	slugs := make(map[string]struct{}, len(defs))
	ids := make(map[int]struct{}, len(defs))
	for _, def := range defs {
		label := def.Slug
		if strings.TrimSpace(def.Slug) == "" {
			label = fmt.Sprintf("#%d", def.ID)
			add("template %s: slug is required", label)
		} else if _, dup := slugs[def.Slug]; dup {
			add("template %s: duplicate slug", label)
		}
		slugs[def.Slug] = struct{}{}

		if def.ID <= 0 {
			add("template %s: id must be positive", label)
		} else if _, dup := ids[def.ID]; dup {
			add("template %s: duplicate id %d", label, def.ID)
		}
		ids[def.ID] = struct{}{}

		if len(def.Pages) == 0 {
			add("template %s: at least one page is required", label)
		}
		pageIDs := make(map[string]struct{}, len(def.Pages))
		for i, page := range def.Pages {
			if strings.TrimSpace(page.ID) == "" {
				add("template %s: page %d has no id", label, i)
				continue
			}
			if _, dup := pageIDs[page.ID]; dup {
				add("template %s: duplicate page id %q", label, page.ID)
			}
			pageIDs[page.ID] = struct{}{}
			if !page.Type.Valid() {
				add("template %s: page %q has unknown type %q", label, page.ID, page.Type)
			}
			for _, field := range page.RequiredFields {
				if strings.TrimSpace(field) == "" {
					add("template %s: page %q has a blank required field", label, page.ID)
				}
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(problems...))
}

type catalogDocument struct {
	Templates []templateDocument `yaml:"templates"`
}

type templateDocument struct {
	ID              int            `yaml:"id"`
	Slug            string         `yaml:"slug"`
	Title           string         `yaml:"title"`
	Category        string         `yaml:"category"`
	Description     string         `yaml:"description"`
	Price           priceDocument  `yaml:"price"`
	BackgroundTrack string         `yaml:"background_track"`
	Pages           []pageDocument `yaml:"pages"`
}

type priceDocument struct {
	Amount    int64  `yaml:"amount"`
	CompareAt int64  `yaml:"compare_at"`
	Currency  string `yaml:"currency"`
}

type pageDocument struct {
	ID             string         `yaml:"id"`
	Type           string         `yaml:"type"`
	Title          string         `yaml:"title"`
	RequiredFields []string       `yaml:"required_fields"`
	Config         map[string]any `yaml:"config"`
}

func (t templateDocument) toDomain() domain.TemplateDefinition {
	def := domain.TemplateDefinition{
		ID:              t.ID,
		Slug:            strings.TrimSpace(t.Slug),
		Title:           t.Title,
		Category:        t.Category,
		Description:     t.Description,
		BackgroundTrack: t.BackgroundTrack,
		Price: domain.Price{
			Amount:    t.Price.Amount,
			CompareAt: t.Price.CompareAt,
			Currency:  t.Price.Currency,
		},
		Pages: make([]domain.TemplatePage, 0, len(t.Pages)),
	}
	for _, p := range t.Pages {
		def.Pages = append(def.Pages, domain.TemplatePage{
			ID:             strings.TrimSpace(p.ID),
			Type:           domain.PageType(strings.TrimSpace(p.Type)),
			Title:          p.Title,
			RequiredFields: p.RequiredFields,
			Config:         p.Config,
		})
	}
	return def
}
