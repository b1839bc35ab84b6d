package audio

import "sync"

// CommandKind names an instruction for the client-side audio element.
type CommandKind string

const (
	CommandPlayBackground  CommandKind = "play_background"
	CommandPauseBackground CommandKind = "pause_background"
	CommandSetVolume       CommandKind = "set_volume"
	CommandPlayEffect      CommandKind = "play_effect"
)

// Command is one recorded Player call.
type Command struct {
	Seq      int         `json:"seq"`
	Kind     CommandKind `json:"kind"`
	URL      string      `json:"url,omitempty"`
	Volume   float64     `json:"volume,omitempty"`
	EffectID string      `json:"effectId,omitempty"`
}

// CommandLog is a Player that records commands for a remote shell to replay.
// Only the most recent limit commands are retained.
type CommandLog struct {
	mu       sync.Mutex
	limit    int
	seq      int
	commands []Command
}

// NewCommandLog returns a log keeping at most limit commands. limit <= 0 selects 256.
func NewCommandLog(limit int) *CommandLog {
	if limit <= 0 {
		limit = 256
	}
	return &CommandLog{limit: limit}
}

func (l *CommandLog) PlayBackground(url string) {
	l.append(Command{Kind: CommandPlayBackground, URL: url})
}

func (l *CommandLog) PauseBackground() {
	l.append(Command{Kind: CommandPauseBackground})
}

func (l *CommandLog) SetVolume(volume float64) {
	l.append(Command{Kind: CommandSetVolume, Volume: volume})
}

func (l *CommandLog) PlayEffect(effectID string) {
	l.append(Command{Kind: CommandPlayEffect, EffectID: effectID})
}

// Since returns commands with a sequence number greater than after.
func (l *CommandLog) Since(after int) []Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Command, 0, len(l.commands))
	for _, cmd := range l.commands {
		if cmd.Seq > after {
			out = append(out, cmd)
		}
	}
	return out
}

// Last returns the latest sequence number.
func (l *CommandLog) Last() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

func (l *CommandLog) append(cmd Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	cmd.Seq = l.seq
	l.commands = append(l.commands, cmd)
	if over := len(l.commands) - l.limit; over > 0 {
		l.commands = append(l.commands[:0:0], l.commands[over:]...)
	}
}
