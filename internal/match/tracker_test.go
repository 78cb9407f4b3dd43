package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/park285/mathlab-pvp/internal/bot"
	"github.com/park285/mathlab-pvp/internal/clock"
	"github.com/park285/mathlab-pvp/internal/domain"
)

type fakeMove struct {
	playerID string
	index    int
	correct  bool
}

// fakeAuthority is an in-memory authority with just enough rules for the tracker.
type fakeAuthority struct {
	mu       sync.Mutex
	clk      clock.Clock
	problems []domain.Problem
	matches  map[string]*domain.Match
	open     string
	seq      int

	moves       []fakeMove
	cancelled   []string
	converted   []string
	surrendered []string
	claims      int
	finishes    int

	submitErr error
	claimErr  error
	onCreate  func()
}

func newFakeAuthority(clk clock.Clock, problems int) *fakeAuthority {
	f := &fakeAuthority{clk: clk, matches: map[string]*domain.Match{}}
	for i := 0; i < problems; i++ {
		f.problems = append(f.problems, domain.Problem{
			ID:     fmt.Sprintf("p%d", i),
			Topic:  "arithmetic",
			Prompt: fmt.Sprintf("%d + 1", i),
			Answer: fmt.Sprint(i + 1),
		})
	}
	return f
}

func (f *fakeAuthority) copyOf(m *domain.Match) *domain.Match {
	c := *m
	c.ProblemIDs = append([]string(nil), m.ProblemIDs...)
	return &c
}

func (f *fakeAuthority) row(id string) domain.Match {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.copyOf(f.matches[id])
}

// host opens a waiting match for another player and advertises it.
func (f *fakeAuthority) host(p domain.Player) string {
	ids := make([]string, 0, len(f.problems))
	for _, pr := range f.problems {
		ids = append(ids, pr.ID)
	}
	m, _ := f.CreateMatch(context.Background(), p, ids)
	f.mu.Lock()
	f.open = m.ID
	f.mu.Unlock()
	return m.ID
}

func (f *fakeAuthority) FindOpenMatch(_ context.Context, p domain.Player, _ int) (*domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[f.open]
	if !ok || m.Status != domain.MatchWaiting || m.Player1ID == p.ID {
		return nil, nil
	}
	return f.copyOf(m), nil
}

func (f *fakeAuthority) SampleProblems(_ context.Context, n int) ([]domain.Problem, error) {
	if n > len(f.problems) {
		n = len(f.problems)
	}
	return append([]domain.Problem(nil), f.problems[:n]...), nil
}

func (f *fakeAuthority) FetchProblems(_ context.Context, ids []string) ([]domain.Problem, error) {
	var out []domain.Problem
	for _, id := range ids {
		for _, p := range f.problems {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakeAuthority) CreateMatch(_ context.Context, p domain.Player, problemIDs []string) (*domain.Match, error) {
	f.mu.Lock()
	f.seq++
	m := &domain.Match{
		ID:              fmt.Sprintf("m%d", f.seq),
		Mode:            domain.ModePvP,
		Status:          domain.MatchWaiting,
		ProblemIDs:      append([]string(nil), problemIDs...),
		Player1ID:       p.ID,
		Player1Name:     p.Name,
		Player1Rating:   p.Rating,
		Player1LastSeen: f.clk.Now(),
		Version:         1,
	}
	f.matches[m.ID] = m
	out := f.copyOf(m)
	hook := f.onCreate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeAuthority) JoinMatch(_ context.Context, matchID string, p domain.Player) (*domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[matchID]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	if m.Player2ID != "" {
		return nil, domain.ErrMatchFull
	}
	m.Player2ID, m.Player2Name, m.Player2Rating = p.ID, p.Name, p.Rating
	m.Player2LastSeen = f.clk.Now()
	m.Status = domain.MatchActive
	m.Version++
	return f.copyOf(m), nil
}

func (f *fakeAuthority) CancelMatch(_ context.Context, matchID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, matchID)
	if m, ok := f.matches[matchID]; ok {
		m.Status = domain.MatchCancelled
		m.Version++
	}
	return nil
}

func (f *fakeAuthority) ConvertToBot(_ context.Context, matchID, botID, botName string, botRating int) (*domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.converted = append(f.converted, matchID)
	m, ok := f.matches[matchID]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	if m.Player2ID != "" {
		return nil, domain.ErrMatchFull
	}
	m.Player2ID, m.Player2Name, m.Player2Rating = botID, botName, botRating
	m.Mode = domain.ModeBot
	m.Status = domain.MatchActive
	m.Version++
	return f.copyOf(m), nil
}

func (f *fakeAuthority) SubmitMove(_ context.Context, matchID, playerID string, correct bool, index int) (*domain.MoveAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.moves = append(f.moves, fakeMove{playerID: playerID, index: index, correct: correct})
	m := f.matches[matchID]
	m.Version++
	return &domain.MoveAck{MatchID: matchID, PlayerID: playerID, Version: m.Version, Status: m.Status}, nil
}

func (f *fakeAuthority) FinishMatch(_ context.Context, matchID, _ string) (*domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes++
	return f.copyOf(f.matches[matchID]), nil
}

func (f *fakeAuthority) SurrenderMatch(_ context.Context, matchID, playerID string) (*domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surrendered = append(f.surrendered, matchID)
	m := f.matches[matchID]
	m.Status = domain.MatchFinished
	m.WinnerID = m.OpponentOf(playerID)
	m.EndReason = "surrender"
	m.Version++
	return f.copyOf(m), nil
}

func (f *fakeAuthority) ClaimTimeoutWin(_ context.Context, matchID, _ string) (*domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.copyOf(f.matches[matchID]), nil
}

func (f *fakeAuthority) Heartbeat(context.Context, string, string) error { return nil }

func (f *fakeAuthority) GetMatch(_ context.Context, matchID string) (*domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[matchID]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	return f.copyOf(m), nil
}

func (f *fakeAuthority) Subscribe(ctx context.Context, _ string) (<-chan domain.Match, error) {
	ch := make(chan domain.Match)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeAuthority) botMoves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, mv := range f.moves {
		if bot.IsBotID(mv.playerID) {
			n++
		}
	}
	return n
}

var me = domain.Player{ID: "me", Name: "Me", Rating: 1000}

func newTestTracker(t *testing.T, problems int, opts ...Option) (*Tracker, *fakeAuthority, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	auth := newFakeAuthority(clk, problems)
	base := []Option{
		WithClock(clk),
		WithMatchSize(problems),
		WithDispatcher(func(f func()) { f() }),
	}
	tr := NewTracker(auth, me, append(base, opts...)...)
	t.Cleanup(tr.Close)
	return tr, auth, clk
}

// joinHuman puts tr into an active match against a human host.
func joinHuman(t *testing.T, tr *Tracker, auth *fakeAuthority) string {
	t.Helper()
	id := auth.host(domain.Player{ID: "host", Name: "Host", Rating: 1010})
	if err := tr.FindMatch(context.Background()); err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if s := tr.Snapshot(); s.Phase != PhaseActive || s.MatchID != id {
		t.Fatalf("expected active match %s, got %+v", id, s)
	}
	return id
}

// joinBot creates a match and lets the fallback pair it with a bot.
func joinBot(t *testing.T, tr *Tracker, clk *clock.Fake) string {
	t.Helper()
	if err := tr.FindMatch(context.Background()); err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	clk.Advance(7 * time.Second)
	s := tr.Snapshot()
	if s.Phase != PhaseActive || !s.Opponent.Bot {
		t.Fatalf("expected active bot match, got %+v", s)
	}
	return s.MatchID
}

func TestFindMatchFallsBackToBot(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3)

	if err := tr.FindMatch(context.Background()); err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	s := tr.Snapshot()
	if s.Phase != PhaseSearching || s.MatchID == "" {
		t.Fatalf("expected searching with a match id, got %+v", s)
	}

	clk.Advance(6 * time.Second)
	if got := tr.Snapshot().Phase; got != PhaseSearching {
		t.Fatalf("bot fallback fired early: phase=%s", got)
	}

	clk.Advance(time.Second)
	s = tr.Snapshot()
	if s.Phase != PhaseActive {
		t.Fatalf("expected active after fallback, got %s", s.Phase)
	}
	if !s.Opponent.Bot || s.Opponent.ID != bot.PlayerID(s.MatchID) || s.Opponent.Name != bot.Name(s.MatchID) {
		t.Fatalf("unexpected bot opponent: %+v", s.Opponent)
	}
	if s.Opponent.Rating != bot.TierFor(me.Rating).ApproxRating {
		t.Fatalf("bot rating = %d", s.Opponent.Rating)
	}
	if s.Question == nil || s.Question.Index != 0 || s.TimeLeft != 60 {
		t.Fatalf("expected first question with full timer, got %+v", s)
	}
	if len(auth.converted) != 1 {
		t.Fatalf("expected one conversion, got %d", len(auth.converted))
	}
}

func TestFindMatchJoinsOpenMatch(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3)
	joinHuman(t, tr, auth)

	s := tr.Snapshot()
	if s.Opponent.ID != "host" || s.Opponent.Bot {
		t.Fatalf("unexpected opponent: %+v", s.Opponent)
	}
	if s.Total != 3 || s.Question == nil || s.Question.ID != "p0" {
		t.Fatalf("unexpected question state: %+v", s)
	}
	clk.Advance(10 * time.Second)
	if len(auth.converted) != 0 {
		t.Fatalf("joined match must not convert to bot")
	}
}

func TestFindMatchTwiceIsRejected(t *testing.T) {
	tr, _, _ := newTestTracker(t, 3)
	if err := tr.FindMatch(context.Background()); err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if err := tr.FindMatch(context.Background()); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestCancelReturnsToLobby(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3)
	if err := tr.FindMatch(context.Background()); err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	id := tr.Snapshot().MatchID

	if err := tr.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	s := tr.Snapshot()
	if s.Phase != PhaseLobby || s.MatchID != "" {
		t.Fatalf("expected clean lobby, got %+v", s)
	}
	if clk.Pending() != 0 {
		t.Fatalf("timers left after cancel: %d", clk.Pending())
	}
	if len(auth.cancelled) != 1 || auth.cancelled[0] != id {
		t.Fatalf("expected authority cancel for %s, got %v", id, auth.cancelled)
	}

	clk.Advance(10 * time.Second)
	if len(auth.converted) != 0 {
		t.Fatalf("cancelled search converted to bot")
	}
	if err := tr.Cancel(); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("second Cancel = %v, want ErrInvalidPhase", err)
	}
}

func TestCancelDuringMatchmakingReleasesMatch(t *testing.T) {
	tr, auth, _ := newTestTracker(t, 3)
	auth.onCreate = func() {
		if err := tr.Cancel(); err != nil {
			t.Errorf("Cancel: %v", err)
		}
	}

	if err := tr.FindMatch(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("FindMatch = %v, want ErrCancelled", err)
	}
	if got := tr.Snapshot().Phase; got != PhaseLobby {
		t.Fatalf("phase = %s, want lobby", got)
	}
	if len(auth.cancelled) != 1 || auth.cancelled[0] != "m1" {
		t.Fatalf("created match not released: %v", auth.cancelled)
	}
}

func TestSubmitScoresAndShowsFeedback(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3)
	joinHuman(t, tr, auth)

	fb, err := tr.Submit(" 1 ")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !fb.Correct || fb.Index != 0 || fb.Expected != "1" {
		t.Fatalf("unexpected feedback: %+v", fb)
	}
	s := tr.Snapshot()
	if s.Score != 1 || s.Index != 1 || s.Feedback == nil || s.Question != nil {
		t.Fatalf("unexpected state after answer: %+v", s)
	}

	if _, err := tr.Submit("2"); !errors.Is(err, ErrFeedbackPending) {
		t.Fatalf("Submit during feedback = %v, want ErrFeedbackPending", err)
	}

	clk.Advance(time.Second)
	s = tr.Snapshot()
	if s.Feedback != nil || s.Question == nil || s.Question.Index != 1 || s.TimeLeft != 60 {
		t.Fatalf("expected next question, got %+v", s)
	}

	fb, err = tr.Submit("7")
	if err != nil || fb.Correct {
		t.Fatalf("wrong answer graded as %+v, err=%v", fb, err)
	}
	if got := tr.Snapshot().Score; got != 1 {
		t.Fatalf("score = %d, want 1", got)
	}

	if len(auth.moves) != 2 || auth.moves[0] != (fakeMove{"me", 0, true}) || auth.moves[1] != (fakeMove{"me", 1, false}) {
		t.Fatalf("unexpected persisted moves: %+v", auth.moves)
	}
}

func TestSubmitOutsideActivePhase(t *testing.T) {
	tr, _, _ := newTestTracker(t, 3)
	if _, err := tr.Submit("1"); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("Submit in lobby = %v, want ErrInvalidPhase", err)
	}
}

func TestQuestionTimeoutCountsAsWrong(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3)
	joinHuman(t, tr, auth)

	clk.Advance(59 * time.Second)
	if s := tr.Snapshot(); s.TimeLeft != 1 || s.Index != 0 {
		t.Fatalf("expected one tick left, got %+v", s)
	}
	clk.Advance(time.Second)
	s := tr.Snapshot()
	if s.Feedback == nil || !s.Feedback.TimedOut || s.Feedback.Correct || s.Index != 1 {
		t.Fatalf("expected timed out feedback, got %+v", s)
	}

	clk.Advance(123 * time.Second)
	s = tr.Snapshot()
	if s.Index != 3 || s.Score != 0 {
		t.Fatalf("after three expiries: index=%d score=%d", s.Index, s.Score)
	}
	if _, err := tr.Submit("1"); !errors.Is(err, ErrFeedbackPending) && !errors.Is(err, ErrAwaitingResult) {
		t.Fatalf("Submit after last question = %v", err)
	}
	if s.Phase != PhaseActive {
		t.Fatalf("match must wait for the authority, phase=%s", s.Phase)
	}
}

func answerAll(t *testing.T, tr *Tracker, clk *clock.Fake, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := tr.Submit(fmt.Sprint(i + 1)); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if i < n-1 {
			clk.Advance(time.Second)
		}
	}
}

func TestAwaitPolicyWaitsForAuthority(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3)
	id := joinHuman(t, tr, auth)

	answerAll(t, tr, clk, 3)
	clk.Advance(time.Second)
	s := tr.Snapshot()
	if s.Phase != PhaseActive || s.Score != 3 || s.Question != nil {
		t.Fatalf("expected active awaiting result, got %+v", s)
	}
	if _, err := tr.Submit("1"); !errors.Is(err, ErrAwaitingResult) {
		t.Fatalf("Submit = %v, want ErrAwaitingResult", err)
	}
	if auth.finishes != 1 {
		t.Fatalf("finish requests = %d, want 1", auth.finishes)
	}

	row := auth.row(id)
	row.Status = domain.MatchFinished
	row.WinnerID = "me"
	row.EndReason = "completed"
	row.Player2Delta = 16
	row.Version += 10
	tr.ApplyRemote(row)

	s = tr.Snapshot()
	if s.Phase != PhaseFinished || s.Outcome != OutcomeWin || s.RatingDelta != 16 || s.EndReason != "completed" {
		t.Fatalf("unexpected final state: %+v", s)
	}
}

func TestOptimisticFinishAgainstBot(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3, WithFinishPolicy(FinishOptimistic))
	id := joinBot(t, tr, clk)

	answerAll(t, tr, clk, 3)
	s := tr.Snapshot()
	if s.Phase != PhaseFinished || s.Outcome != OutcomeWin || s.EndReason != ReasonOptimistic {
		t.Fatalf("expected optimistic win, got %+v", s)
	}

	// the bot keeps answering so the authority can settle the row
	clk.Advance(60 * time.Second)
	if got := auth.botMoves(); got != 3 {
		t.Fatalf("bot moves persisted = %d, want 3", got)
	}

	row := auth.row(id)
	row.Status = domain.MatchFinished
	row.WinnerID = "me"
	row.EndReason = "completed"
	row.Player1Delta = 12
	row.Version += 10
	tr.ApplyRemote(row)
	s = tr.Snapshot()
	if s.EndReason != "completed" || s.RatingDelta != 12 || s.Outcome != OutcomeWin {
		t.Fatalf("authority result not applied: %+v", s)
	}
}

func TestAwaitPolicyAgainstBotKeepsPlaying(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3)
	joinBot(t, tr, clk)

	answerAll(t, tr, clk, 3)
	if got := tr.Snapshot().Phase; got != PhaseActive {
		t.Fatalf("await policy finished locally: phase=%s", got)
	}
	clk.Advance(60 * time.Second)
	s := tr.Snapshot()
	if s.Opponent.Progress != 3 {
		t.Fatalf("bot progress = %d, want 3", s.Opponent.Progress)
	}
	if got := auth.botMoves(); got != 3 {
		t.Fatalf("bot moves persisted = %d, want 3", got)
	}
}

func TestRemoteUpdatesOnlyTouchOpponent(t *testing.T) {
	tr, auth, _ := newTestTracker(t, 3)
	id := joinHuman(t, tr, auth)

	if _, err := tr.Submit("1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	row := auth.row(id)
	row.Player1Score, row.Player1Progress = 2, 2
	row.Player2Score, row.Player2Progress = 0, 0
	tr.ApplyRemote(row)

	s := tr.Snapshot()
	if s.Score != 1 || s.Index != 1 {
		t.Fatalf("own progress overwritten: score=%d index=%d", s.Score, s.Index)
	}
	if s.Opponent.Score != 2 || s.Opponent.Progress != 2 {
		t.Fatalf("opponent not mirrored: %+v", s.Opponent)
	}

	stale := row
	stale.Player1Score = 0
	tr.ApplyRemote(stale)
	if got := tr.Snapshot().Opponent.Score; got != 2 {
		t.Fatalf("stale row applied: opponent score=%d", got)
	}

	other := row
	other.ID = "elsewhere"
	other.Version += 5
	other.Player1Score = 3
	tr.ApplyRemote(other)
	if got := tr.Snapshot().Opponent.Score; got != 2 {
		t.Fatalf("row for another match applied")
	}
}

func TestRemoteFinishedEndsMatchEarly(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 5)
	id := joinHuman(t, tr, auth)

	row := auth.row(id)
	row.Status = domain.MatchFinished
	row.WinnerID = "host"
	row.EndReason = "timeout"
	row.Version++
	tr.ApplyRemote(row)

	s := tr.Snapshot()
	if s.Phase != PhaseFinished || s.Outcome != OutcomeLoss || s.EndReason != "timeout" {
		t.Fatalf("unexpected state: %+v", s)
	}
	if clk.Pending() != 0 {
		t.Fatalf("timers left after finish: %d", clk.Pending())
	}
	if _, err := tr.Submit("1"); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("Submit after finish = %v", err)
	}
}

func TestDrawOutcome(t *testing.T) {
	tr, auth, _ := newTestTracker(t, 3)
	id := joinHuman(t, tr, auth)

	row := auth.row(id)
	row.Status = domain.MatchFinished
	row.Version++
	tr.ApplyRemote(row)
	if got := tr.Snapshot().Outcome; got != OutcomeDraw {
		t.Fatalf("outcome = %q, want draw", got)
	}
}

func TestStaleOpponentClaimsOnce(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 10)
	id := joinHuman(t, tr, auth)
	auth.claimErr = domain.ErrOpponentAlive

	clk.Advance(115 * time.Second)
	if s := tr.Snapshot(); s.OpponentDisconnected {
		t.Fatalf("opponent flagged too early")
	}
	clk.Advance(15 * time.Second)
	if s := tr.Snapshot(); !s.OpponentDisconnected {
		t.Fatalf("expected opponent flagged as disconnected")
	}
	clk.Advance(60 * time.Second)
	if auth.claims != 1 {
		t.Fatalf("timeout claims = %d, want 1", auth.claims)
	}

	row := auth.row(id)
	row.Player1LastSeen = clk.Now()
	row.Version += 10
	tr.ApplyRemote(row)
	if s := tr.Snapshot(); s.OpponentDisconnected || s.Phase != PhaseActive {
		t.Fatalf("expected opponent back, got %+v", s)
	}
}

func TestBotOpponentNeverGoesStale(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 10)
	joinBot(t, tr, clk)
	clk.Advance(200 * time.Second)
	if auth.claims != 0 || tr.Snapshot().OpponentDisconnected {
		t.Fatalf("bot opponent treated as disconnected")
	}
}

func TestSurrender(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3)
	id := joinHuman(t, tr, auth)

	if err := tr.Surrender(context.Background()); err != nil {
		t.Fatalf("Surrender: %v", err)
	}
	s := tr.Snapshot()
	if s.Phase != PhaseFinished || s.Outcome != OutcomeLoss || s.WinnerID != "host" || s.EndReason != ReasonSurrender {
		t.Fatalf("unexpected state: %+v", s)
	}
	if len(auth.surrendered) != 1 || auth.surrendered[0] != id {
		t.Fatalf("surrender not sent: %v", auth.surrendered)
	}
	if clk.Pending() != 0 {
		t.Fatalf("timers left after surrender: %d", clk.Pending())
	}
}

func TestAttachMissingMatchIsTerminal(t *testing.T) {
	tr, _, _ := newTestTracker(t, 3)
	if err := tr.Attach(context.Background(), "gone"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	s := tr.Snapshot()
	if s.Phase != PhaseFinished || s.EndReason != ReasonNotFound || s.Outcome != OutcomeNone {
		t.Fatalf("unexpected state: %+v", s)
	}
	if err := tr.FindMatch(context.Background()); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("FindMatch after terminal = %v", err)
	}
}

func TestAttachResumesProgress(t *testing.T) {
	tr, auth, _ := newTestTracker(t, 5)
	id := auth.host(domain.Player{ID: "host", Name: "Host", Rating: 1000})
	if _, err := auth.JoinMatch(context.Background(), id, me); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	auth.mu.Lock()
	auth.matches[id].Player2Score, auth.matches[id].Player2Progress = 2, 3
	auth.mu.Unlock()

	if err := tr.Attach(context.Background(), id); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	s := tr.Snapshot()
	if s.Phase != PhaseActive || s.Index != 3 || s.Score != 2 || s.Question == nil || s.Question.ID != "p3" {
		t.Fatalf("unexpected resumed state: %+v", s)
	}
}

func TestAttachRejectsOutsider(t *testing.T) {
	tr, auth, _ := newTestTracker(t, 3)
	id := auth.host(domain.Player{ID: "host", Rating: 1000})
	if err := tr.Attach(context.Background(), id); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("Attach = %v, want ErrNotParticipant", err)
	}
	if got := tr.Snapshot().Phase; got != PhaseLobby {
		t.Fatalf("phase = %s, want lobby", got)
	}
}

func TestResumablePicksNewestActiveSeat(t *testing.T) {
	done := &domain.Match{ID: "done", Status: domain.MatchFinished, Player1ID: "me", Player2ID: "x"}
	waiting := &domain.Match{ID: "wait", Status: domain.MatchWaiting, Player1ID: "me"}
	other := &domain.Match{ID: "other", Status: domain.MatchActive, Player1ID: "a", Player2ID: "b"}
	live := &domain.Match{ID: "live", Status: domain.MatchActive, Player1ID: "x", Player2ID: "me"}
	older := &domain.Match{ID: "older", Status: domain.MatchActive, Player1ID: "me", Player2ID: "y"}

	if got := Resumable([]*domain.Match{done, waiting, nil, other, live, older}, "me"); got != live {
		t.Fatalf("Resumable = %+v, want live", got)
	}
	if got := Resumable([]*domain.Match{done, waiting, other}, "me"); got != nil {
		t.Fatalf("Resumable = %+v, want nil", got)
	}
}

func TestPersistFailureDoesNotBlock(t *testing.T) {
	tr, auth, clk := newTestTracker(t, 3)
	joinHuman(t, tr, auth)
	auth.submitErr = errors.New("network down")

	if _, err := tr.Submit("1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := tr.Submit("2"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s := tr.Snapshot(); s.Score != 2 || s.Index != 2 {
		t.Fatalf("local progress lost: %+v", s)
	}
}

func TestChangeCallbacks(t *testing.T) {
	tr, _, _ := newTestTracker(t, 3)
	var phases []Phase
	id := tr.OnChange(func(s Snapshot) { phases = append(phases, s.Phase) })

	if err := tr.FindMatch(context.Background()); err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if len(phases) == 0 || phases[0] != PhaseSearching {
		t.Fatalf("unexpected notifications: %v", phases)
	}

	tr.RemoveChangeCallback(id)
	n := len(phases)
	if err := tr.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(phases) != n {
		t.Fatalf("removed callback still invoked")
	}
}

func TestCloseStopsEverything(t *testing.T) {
	tr, _, clk := newTestTracker(t, 3)
	joinBot(t, tr, clk)
	tr.Close()
	if clk.Pending() != 0 {
		t.Fatalf("timers left after Close: %d", clk.Pending())
	}
	if _, err := tr.Submit("1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Close = %v", err)
	}
}
