package bot

import (
	"math/rand"
	"sync"
	"time"

	"github.com/park285/mathlab-pvp/internal/clock"
)

// Progress is emitted after every simulated answer.
type Progress struct {
	Index   int // questions answered so far
	Score   int
	Correct bool
	Done    bool
}

type Config struct {
	DuelID string
	Tier   Tier
	Total  int
	// Score and Index resume a pacer mid-duel.
	Score int
	Index int
	Clock clock.Clock
	Emit  func(Progress)
}

// Step is the precomputed behaviour for one question.
type Step struct {
	Delay   time.Duration
	Correct bool
}

// Pacer advances a simulated opponent one question at a time.
type Pacer struct {
	cfg  Config
	seed int64

	mu      sync.Mutex
	score   int
	index   int
	timer   clock.Timer
	running bool
	done    chan struct{}
	once    sync.Once
}

func NewPacer(cfg Config) *Pacer {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if ValidateTier(cfg.Tier) != nil {
		cfg.Tier = tiers[0]
	}
	if cfg.Index < 0 {
		cfg.Index = 0
	}
	return &Pacer{
		cfg:   cfg,
		seed:  Seed(cfg.DuelID),
		score: cfg.Score,
		index: cfg.Index,
		done:  make(chan struct{}),
	}
}

// Plan returns the delay and correctness of question i. It depends only on
// the duel id, the tier and i, so a resumed pacer replays the same duel.
func (p *Pacer) Plan(i int) Step {
	r := rand.New(rand.NewSource(p.seed + int64(i)*7919))
	span := int64(p.cfg.Tier.MaxDelay - p.cfg.Tier.MinDelay)
	delay := p.cfg.Tier.MinDelay
	if span > 0 {
		delay += time.Duration(r.Int63n(span + 1))
	}
	return Step{Delay: delay, Correct: r.Float64() < p.cfg.Tier.Accuracy}
}

func (p *Pacer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	if p.index >= p.cfg.Total {
		p.finish()
		return
	}
	p.running = true
	p.scheduleLocked()
}

func (p *Pacer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Done is closed once the bot answered every question.
func (p *Pacer) Done() <-chan struct{} { return p.done }

func (p *Pacer) scheduleLocked() {
	step := p.Plan(p.index)
	idx := p.index
	p.timer = p.cfg.Clock.AfterFunc(step.Delay, func() { p.answer(idx, step.Correct) })
}

func (p *Pacer) answer(idx int, correct bool) {
	p.mu.Lock()
	if !p.running || idx != p.index {
		p.mu.Unlock()
		return
	}
	if correct {
		p.score++
	}
	p.index++
	ev := Progress{Index: p.index, Score: p.score, Correct: correct, Done: p.index >= p.cfg.Total}
	if ev.Done {
		p.running = false
		p.timer = nil
		p.finish()
	} else {
		p.scheduleLocked()
	}
	p.mu.Unlock()

	if p.cfg.Emit != nil {
		p.cfg.Emit(ev)
	}
}

func (p *Pacer) finish() { p.once.Do(func() { close(p.done) }) }
