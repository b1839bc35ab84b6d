package audio

// Tee returns a Player that forwards every command to each non-nil player in order.
func Tee(players ...Player) Player {
	out := make(tee, 0, len(players))
	for _, p := range players {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

type tee []Player

func (t tee) PlayBackground(url string) {
	for _, p := range t {
		p.PlayBackground(url)
	}
}

func (t tee) PauseBackground() {
	for _, p := range t {
		p.PauseBackground()
	}
}

func (t tee) SetVolume(volume float64) {
	for _, p := range t {
		p.SetVolume(volume)
	}
}

func (t tee) PlayEffect(effectID string) {
	for _, p := range t {
		p.PlayEffect(effectID)
	}
}
