package editor

import (
	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/renderer"
)

// Preview mounts the page in editing mode against the current draft and returns its view.
// Unknown pages render the pending placeholder.
func (s *Session) Preview(pageID string) (renderer.View, error) {
	inst, err := s.mountPreview(pageID)
	if err != nil {
		return renderer.View{}, err
	}
	defer inst.Close()
	return inst.View(), nil
}

// PreviewAction mounts the page, routes action to it and returns the resulting view.
// Edit actions flow back into the draft through ApplyEdit, so the page is re-rendered.
func (s *Session) PreviewAction(pageID string, action renderer.Action) (renderer.View, error) {
	inst, err := s.mountPreview(pageID)
	if err != nil {
		return renderer.View{}, err
	}
	err = inst.Interact(action)
	view := inst.View()
	inst.Close()
	if err != nil {
		return renderer.View{}, err
	}
	if action.Name == renderer.ActionEdit {
		return s.Preview(pageID)
	}
	return view, nil
}

func (s *Session) mountPreview(pageID string) (renderer.Instance, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	content := s.draft.Page(pageID).Clone()
	s.mu.Unlock()

	page, _, ok := s.template.Page(pageID)
	if !ok {
		page = domain.TemplatePage{ID: pageID}
	}
	unit := s.registry.Resolve(s.template.Slug, pageID)
	return unit.Mount(renderer.PageContext{
		TemplateSlug: s.template.Slug,
		Page:         page,
		Content:      content,
		Editing:      true,
		Advance:      func() {},
		UpdateField: func(name string, value any) {
			_ = s.ApplyEdit(FieldEditRequest{PageID: pageID, Field: name, Value: value})
		},
		Scheduler: s.scheduler,
		Audio:     s.audio,
	}), nil
}
