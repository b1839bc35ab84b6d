package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/platform/httpx"
	"github.com/giftcraft/experience/internal/renderer"
	"github.com/giftcraft/experience/internal/services"
)

// TemplateHandlers exposes the read-only template catalog.
type TemplateHandlers struct {
	catalog  services.TemplateCatalog
	registry *renderer.Registry
}

// NewTemplateHandlers constructs catalog handlers. registry may be nil, in which case
// no page is reported as implemented.
func NewTemplateHandlers(catalog services.TemplateCatalog, registry *renderer.Registry) *TemplateHandlers {
	return &TemplateHandlers{catalog: catalog, registry: registry}
}

// Routes registers the catalog endpoints under /public.
func (h *TemplateHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/templates", h.listTemplates)
	r.Get("/templates/{slug}", h.getTemplate)
}

type priceResponse struct {
	Amount    int64  `json:"amount"`
	CompareAt int64  `json:"compareAt,omitempty"`
	Currency  string `json:"currency"`
}

type templatePageResponse struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	RequiredFields []string       `json:"requiredFields"`
	Config         map[string]any `json:"config,omitempty"`
	Implemented    bool           `json:"implemented"`
}

type templateResponse struct {
	ID              int                    `json:"id"`
	Slug            string                 `json:"slug"`
	Title           string                 `json:"title"`
	Category        string                 `json:"category"`
	Description     string                 `json:"description,omitempty"`
	Price           priceResponse          `json:"price"`
	BackgroundTrack string                 `json:"backgroundTrack,omitempty"`
	PageCount       int                    `json:"pageCount"`
	Pages           []templatePageResponse `json:"pages,omitempty"`
}

type templateListResponse struct {
	Items []templateResponse `json:"items"`
}

func (h *TemplateHandlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "template catalog")
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	all := h.catalog.ListAll()
	items := make([]templateResponse, 0, len(all))
	for _, tpl := range all {
		if category != "" && !strings.EqualFold(tpl.Category, category) {
			continue
		}
		items = append(items, h.buildTemplate(tpl, false))
	}
	httpx.WriteJSON(w, http.StatusOK, templateListResponse{Items: items})
}

func (h *TemplateHandlers) getTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "template catalog")
		return
	}
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	tpl, err := h.catalog.GetBySlug(slug)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.buildTemplate(tpl, true))
}

func (h *TemplateHandlers) buildTemplate(tpl domain.TemplateDefinition, withPages bool) templateResponse {
	resp := templateResponse{
		ID:          tpl.ID,
		Slug:        tpl.Slug,
		Title:       tpl.Title,
		Category:    tpl.Category,
		Description: tpl.Description,
		Price: priceResponse{
			Amount:    tpl.Price.Amount,
			CompareAt: tpl.Price.CompareAt,
			Currency:  tpl.Price.Currency,
		},
		BackgroundTrack: tpl.BackgroundTrack,
		PageCount:       len(tpl.Pages),
	}
	if !withPages {
		return resp
	}

	implemented := map[string]bool{}
	if h.registry != nil {
		for _, id := range h.registry.Implemented(tpl) {
			implemented[id] = true
		}
	}
	resp.Pages = make([]templatePageResponse, 0, len(tpl.Pages))
	for _, page := range tpl.Pages {
		required := page.RequiredFields
		if required == nil {
			required = []string{}
		}
		resp.Pages = append(resp.Pages, templatePageResponse{
			ID:             page.ID,
			Type:           string(page.Type),
			Title:          page.Title,
			RequiredFields: required,
			Config:         page.Config,
			Implemented:    implemented[page.ID],
		})
	}
	return resp
}
