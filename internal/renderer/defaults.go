package renderer

import "github.com/giftcraft/experience/internal/domain"

var (
	loadingUnit   = StaticUnit{Kind: "loading", NextLabel: "Start"}
	photoUnit     = StaticUnit{Kind: "photo", Fields: []string{"photos", "caption"}}
	sliderUnit    = StaticUnit{Kind: "slider", Fields: []string{"photos", "captions"}}
	timelineUnit  = StaticUnit{Kind: "timeline", Fields: []string{"entries"}}
	characterUnit = StaticUnit{Kind: "character", Fields: []string{"characterName", "lines", "avatarUrl"}}
	messageUnit   = RichTextUnit{Kind: "message", Field: "text", Fields: []string{"from"}}
	letterUnit    = RichTextUnit{Kind: "letter", Field: "body", Fields: []string{"signature"}}
)

// NewDefaultRegistry registers the built-in units for the shipped templates.
// Templates without an entry resolve to the pending unit.
func NewDefaultRegistry(templates TemplateSource) *Registry {
	r := NewRegistry(templates)

	r.Register("birthday-countdown", domain.PageTypeLoading, loadingUnit)
	r.Register("birthday-countdown", domain.PageTypeCountdown, CountdownUnit{})
	r.Register("birthday-countdown", domain.PageTypeMessage, messageUnit)
	r.Register("birthday-countdown", domain.PageTypePhoto, photoUnit)
	r.Register("birthday-countdown", domain.PageTypeCelebration, CelebrationUnit{})

	r.Register("valentine-proposal", domain.PageTypeLoading, loadingUnit)
	r.Register("valentine-proposal", domain.PageTypeLetter, letterUnit)
	r.Register("valentine-proposal", domain.PageTypeGame, EvasiveChoiceUnit{})
	r.Register("valentine-proposal", domain.PageTypeSlider, sliderUnit)
	r.Register("valentine-proposal", domain.PageTypeCelebration, CelebrationUnit{})

	r.Register("gift-box-reveal", domain.PageTypeLoading, loadingUnit)
	r.Register("gift-box-reveal", domain.PageTypeGame, MediaGateUnit{})
	r.Register("gift-box-reveal", domain.PageTypeMessage, messageUnit)
	r.Register("gift-box-reveal", domain.PageTypeFlipCards, FlipCardsUnit{})

	r.Register("anniversary-timeline", domain.PageTypeLoading, loadingUnit)
	r.Register("anniversary-timeline", domain.PageTypeTimeline, timelineUnit)
	r.Register("anniversary-timeline", domain.PageTypeSlider, sliderUnit)
	r.Register("anniversary-timeline", domain.PageTypeLetter, letterUnit)
	r.Register("anniversary-timeline", domain.PageTypeCharacter, characterUnit)
	r.Register("anniversary-timeline", domain.PageTypeCelebration, CelebrationUnit{})

	return r
}
