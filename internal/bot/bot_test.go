package bot

import (
	"testing"
	"time"

	"github.com/park285/mathlab-pvp/internal/clock"
)

func TestTierFor(t *testing.T) {
	cases := []struct {
		rating int
		want   string
	}{
		{0, "novice"},
		{899, "novice"},
		{900, "apprentice"},
		{1199, "apprentice"},
		{1200, "adept"},
		{1499, "adept"},
		{1500, "master"},
		{2800, "master"},
	}
	for _, tc := range cases {
		if got := TierFor(tc.rating).Name; got != tc.want {
			t.Fatalf("TierFor(%d) = %s, want %s", tc.rating, got, tc.want)
		}
	}
	for _, tier := range Tiers() {
		if err := ValidateTier(tier); err != nil {
			t.Fatalf("builtin tier invalid: %v", err)
		}
	}
}

func TestHigherTiersAreFasterAndMoreAccurate(t *testing.T) {
	all := Tiers()
	for i := 1; i < len(all); i++ {
		if all[i].MaxDelay > all[i-1].MaxDelay || all[i].Accuracy <= all[i-1].Accuracy {
			t.Fatalf("tier %s should be harder than %s", all[i].Name, all[i-1].Name)
		}
	}
}

func TestNameStable(t *testing.T) {
	id := "6f1c2a7e-0d55-4c3b-9a43-1f3c9b0e7d21"
	first := Name(id)
	for i := 0; i < 10; i++ {
		if got := Name(id); got != first {
			t.Fatalf("Name not stable: %s vs %s", got, first)
		}
	}
	if Name("") == "" {
		t.Fatalf("empty id should still map to a name")
	}
}

func TestSeedStable(t *testing.T) {
	if Seed("duel-1") != Seed("duel-1") {
		t.Fatalf("seed not stable")
	}
	if Seed("duel-1") == Seed("duel-2") {
		t.Fatalf("different ids should give different seeds")
	}
	if Seed("duel-1") < 0 {
		t.Fatalf("seed must be non-negative")
	}
}

func runPacer(t *testing.T, cfg Config) []Progress {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	var got []Progress
	cfg.Clock = clk
	cfg.Emit = func(p Progress) { got = append(got, p) }
	p := NewPacer(cfg)
	p.Start()
	clk.Advance(time.Duration(cfg.Total+1) * cfg.Tier.MaxDelay)
	select {
	case <-p.Done():
	default:
		t.Fatalf("pacer not done after %d questions", cfg.Total)
	}
	return got
}

func TestPacerRunsToCompletion(t *testing.T) {
	tier := TierFor(1000)
	got := runPacer(t, Config{DuelID: "d1", Tier: tier, Total: 10})
	if len(got) != 10 {
		t.Fatalf("expected 10 progress events, got %d", len(got))
	}
	prevScore := 0
	for i, ev := range got {
		if ev.Index != i+1 {
			t.Fatalf("event %d index=%d", i, ev.Index)
		}
		if ev.Score < prevScore || ev.Score > ev.Index {
			t.Fatalf("event %d score=%d out of bounds", i, ev.Score)
		}
		prevScore = ev.Score
		if ev.Done != (i == 9) {
			t.Fatalf("event %d done=%v", i, ev.Done)
		}
	}
}

func TestPacerDeterministic(t *testing.T) {
	tier := TierFor(1300)
	a := runPacer(t, Config{DuelID: "same", Tier: tier, Total: 10})
	b := runPacer(t, Config{DuelID: "same", Tier: tier, Total: 10})
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("run differs at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestPacerResumeReplaysRemainder(t *testing.T) {
	tier := TierFor(1300)
	full := runPacer(t, Config{DuelID: "resume", Tier: tier, Total: 10})
	resumed := runPacer(t, Config{DuelID: "resume", Tier: tier, Total: 10, Index: 4, Score: full[3].Score})
	if len(resumed) != 6 {
		t.Fatalf("expected 6 events after resume, got %d", len(resumed))
	}
	for i, ev := range resumed {
		if ev != full[i+4] {
			t.Fatalf("resumed event %d = %+v, want %+v", i, ev, full[i+4])
		}
	}
}

func TestPacerDelaysWithinBounds(t *testing.T) {
	tier := TierFor(500)
	p := NewPacer(Config{DuelID: "bounds", Tier: tier, Total: 50})
	for i := 0; i < 50; i++ {
		s := p.Plan(i)
		if s.Delay < tier.MinDelay || s.Delay > tier.MaxDelay {
			t.Fatalf("step %d delay %s outside %s..%s", i, s.Delay, tier.MinDelay, tier.MaxDelay)
		}
	}
}

func TestPacerStop(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	events := 0
	p := NewPacer(Config{DuelID: "stop", Tier: TierFor(2000), Total: 10, Clock: clk, Emit: func(Progress) { events++ }})
	p.Start()
	p.Stop()
	clk.Advance(time.Hour)
	if events != 0 {
		t.Fatalf("stopped pacer emitted %d events", events)
	}
	if clk.Pending() != 0 {
		t.Fatalf("stopped pacer left %d timers armed", clk.Pending())
	}
}
