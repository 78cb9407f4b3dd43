package presenter

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/park285/mathlab-pvp/internal/match"
)

// Remaining seconds at which a running question timer is announced.
var timerWarnings = map[int]bool{30: true, 10: true, 5: true}

// Presenter writes rendered text, printing a tracker snapshot only when its
// rendering differs from the last one shown.
type Presenter struct {
	mu    sync.Mutex
	out   io.Writer
	f     *Formatter
	last  string
	phase match.Phase
	timer int
}

func NewPresenter(out io.Writer, f *Formatter) *Presenter {
	return &Presenter{out: out, f: f, phase: match.PhaseLobby}
}

func (p *Presenter) Formatter() *Formatter { return p.f }

// Say writes one message as is.
func (p *Presenter) Say(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, text)
}

// Snapshot is meant to be registered as a tracker change callback.
func (p *Presenter) Snapshot(s match.Snapshot) {
	var out []string
	p.mu.Lock()
	body := p.f.Snapshot(s)
	switch {
	case s.Phase == match.PhaseActive && p.phase != match.PhaseActive:
		out = append(out, p.f.Found(s)+"\n"+body)
	case s.Phase == match.PhaseLobby && p.phase == match.PhaseSearching:
		out = append(out, p.f.Cancelled())
	case body != p.last:
		out = append(out, body)
	}
	p.last = body
	p.phase = s.Phase
	if s.Phase == match.PhaseActive && s.Question != nil && s.Feedback == nil &&
		timerWarnings[s.TimeLeft] && s.TimeLeft != p.timer {
		out = append(out, p.f.Timer(s))
	}
	p.timer = s.TimeLeft
	p.mu.Unlock()
	for _, line := range out {
		p.Say(line)
	}
}
