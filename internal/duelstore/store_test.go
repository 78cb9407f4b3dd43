package duelstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/mathlab-pvp/internal/bot"
	"github.com/park285/mathlab-pvp/internal/catalog"
	"github.com/park285/mathlab-pvp/internal/clock"
	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/match"
)

var _ match.Authority = (*Store)(nil)

func newTestStore(t *testing.T, opts ...Option) (*Store, *clock.Fake) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	var problems []domain.Problem
	for i := 0; i < 12; i++ {
		problems = append(problems, domain.Problem{ID: fmt.Sprintf("q%02d", i), Prompt: fmt.Sprintf("%d+1", i), Answer: fmt.Sprint(i + 1)})
	}
	src, err := catalog.NewMemorySource(problems)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	base := []Option{WithClock(clk), WithRand(rand.New(rand.NewSource(7))), WithMatchSize(4)}
	s := New(rdb, src, append(base, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func player(id string, rating int) domain.Player {
	return domain.Player{ID: id, Name: "name-" + id, Rating: rating}
}

// startDuel creates a match for u1 and lets u2 join it.
func startDuel(t *testing.T, s *Store) *domain.Match {
	t.Helper()
	ctx := context.Background()
	m, err := s.CreateMatch(ctx, player("u1", 1000), nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	m, err = s.JoinMatch(ctx, m.ID, player("u2", 1000))
	if err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	return m
}

func play(t *testing.T, s *Store, matchID, playerID string, correct ...bool) {
	t.Helper()
	for i, c := range correct {
		if _, err := s.SubmitMove(context.Background(), matchID, playerID, c, i); err != nil {
			t.Fatalf("SubmitMove(%s, %d): %v", playerID, i, err)
		}
	}
}

func TestCreateAndFindOpenMatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMatch(ctx, player("u1", 1000), nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if m.Status != domain.MatchWaiting || len(m.ProblemIDs) != 4 || m.Version != 1 {
		t.Fatalf("unexpected new match: %+v", m)
	}

	found, err := s.FindOpenMatch(ctx, player("u2", 1150), 200)
	if err != nil || found == nil || found.ID != m.ID {
		t.Fatalf("FindOpenMatch in range = %v, %v", found, err)
	}
	if found, _ := s.FindOpenMatch(ctx, player("u2", 1300), 200); found != nil {
		t.Fatalf("match outside the rating range returned")
	}
	if found, _ := s.FindOpenMatch(ctx, player("u1", 1000), 200); found != nil {
		t.Fatalf("own match returned")
	}
}

func TestFindOpenMatchPrefersClosestRating(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateMatch(ctx, player("far", 1150), nil); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	near, err := s.CreateMatch(ctx, player("near", 1020), nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	got, err := s.FindOpenMatch(ctx, player("me", 1000), 200)
	if err != nil || got == nil || got.ID != near.ID {
		t.Fatalf("expected closest match %s, got %+v (%v)", near.ID, got, err)
	}
}

func TestCreateMatchRejectsUnknownProblems(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateMatch(context.Background(), player("u1", 1000), []string{"q01", "nope"})
	if !errors.Is(err, domain.ErrInvalidArgs) {
		t.Fatalf("CreateMatch = %v, want ErrInvalidArgs", err)
	}
}

func TestJoinMatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m, err := s.CreateMatch(ctx, player("u1", 1000), nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if _, err := s.JoinMatch(ctx, m.ID, player("u1", 1000)); !errors.Is(err, domain.ErrSelfJoin) {
		t.Fatalf("self join = %v", err)
	}
	joined, err := s.JoinMatch(ctx, m.ID, player("u2", 1000))
	if err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	if joined.Status != domain.MatchActive || joined.Player2ID != "u2" || joined.Version != 2 {
		t.Fatalf("unexpected joined match: %+v", joined)
	}
	if _, err := s.JoinMatch(ctx, m.ID, player("u3", 1000)); !errors.Is(err, domain.ErrMatchFull) {
		t.Fatalf("third join = %v, want ErrMatchFull", err)
	}
	if found, _ := s.FindOpenMatch(ctx, player("u3", 1000), 500); found != nil {
		t.Fatalf("active match still listed as open")
	}
	if _, err := s.JoinMatch(ctx, "missing", player("u3", 1000)); !errors.Is(err, domain.ErrMatchNotFound) {
		t.Fatalf("join missing = %v", err)
	}
}

func TestCancelMatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m, err := s.CreateMatch(ctx, player("u1", 1000), nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if err := s.CancelMatch(ctx, m.ID, "u2"); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("cancel by stranger = %v", err)
	}
	if err := s.CancelMatch(ctx, m.ID, "u1"); err != nil {
		t.Fatalf("CancelMatch: %v", err)
	}
	if err := s.CancelMatch(ctx, m.ID, "u1"); err != nil {
		t.Fatalf("repeated CancelMatch: %v", err)
	}
	if _, err := s.JoinMatch(ctx, m.ID, player("u2", 1000)); !errors.Is(err, domain.ErrMatchNotFound) {
		t.Fatalf("join cancelled = %v", err)
	}
	got, _ := s.GetMatch(ctx, m.ID)
	if got.Status != domain.MatchCancelled || got.Version != 2 {
		t.Fatalf("unexpected cancelled row: %+v", got)
	}
}

func TestConvertToBot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m, err := s.CreateMatch(ctx, player("u1", 1000), nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if _, err := s.ConvertToBot(ctx, m.ID, "robot", "R", 1000); !errors.Is(err, domain.ErrInvalidArgs) {
		t.Fatalf("non-bot id = %v", err)
	}
	conv, err := s.ConvertToBot(ctx, m.ID, bot.PlayerID(m.ID), bot.Name(m.ID), 1050)
	if err != nil {
		t.Fatalf("ConvertToBot: %v", err)
	}
	if conv.Mode != domain.ModeBot || conv.Status != domain.MatchActive || conv.Player2Rating != 1050 {
		t.Fatalf("unexpected bot match: %+v", conv)
	}
	if _, err := s.JoinMatch(ctx, m.ID, player("u2", 1000)); !errors.Is(err, domain.ErrMatchFull) {
		t.Fatalf("join after conversion = %v", err)
	}
	if _, err := s.ConvertToBot(ctx, m.ID, bot.PlayerID(m.ID), bot.Name(m.ID), 1050); !errors.Is(err, domain.ErrMatchFull) {
		t.Fatalf("second conversion = %v", err)
	}
}

func TestSubmitMoveIdempotentAndOrderIndependent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m := startDuel(t, s)

	ack, err := s.SubmitMove(ctx, m.ID, "u1", true, 1)
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if ack.Score != 1 || ack.Progress != 2 || ack.Duplicate {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	ack, err = s.SubmitMove(ctx, m.ID, "u1", true, 0)
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if ack.Score != 2 || ack.Progress != 2 {
		t.Fatalf("late move not counted: %+v", ack)
	}
	before, _ := s.GetMatch(ctx, m.ID)
	dup, err := s.SubmitMove(ctx, m.ID, "u1", true, 0)
	if err != nil {
		t.Fatalf("duplicate SubmitMove: %v", err)
	}
	after, _ := s.GetMatch(ctx, m.ID)
	if !dup.Duplicate || dup.Score != 2 || after.Version != before.Version {
		t.Fatalf("duplicate changed state: ack=%+v before=%d after=%d", dup, before.Version, after.Version)
	}
}

func TestSubmitMoveValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m := startDuel(t, s)

	if _, err := s.SubmitMove(ctx, m.ID, "u1", true, 4); !errors.Is(err, domain.ErrInvalidMove) {
		t.Fatalf("index past end = %v", err)
	}
	if _, err := s.SubmitMove(ctx, m.ID, "u1", true, -1); !errors.Is(err, domain.ErrInvalidMove) {
		t.Fatalf("negative index = %v", err)
	}
	if _, err := s.SubmitMove(ctx, m.ID, "u9", true, 0); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("stranger move = %v", err)
	}
	waiting, _ := s.CreateMatch(ctx, player("u3", 1000), nil)
	if _, err := s.SubmitMove(ctx, waiting.ID, "u3", true, 0); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("move on waiting match = %v", err)
	}
}

func TestMatchFinalizesWhenBothDone(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m := startDuel(t, s)

	var hooked []domain.Match
	s.OnFinish(func(_ context.Context, m domain.Match) { hooked = append(hooked, m) })

	play(t, s, m.ID, "u1", true, true, true, false)
	got, err := s.FinishMatch(ctx, m.ID, "u1")
	if err != nil {
		t.Fatalf("FinishMatch: %v", err)
	}
	if got.Status != domain.MatchActive {
		t.Fatalf("finished before the opponent was done: %+v", got)
	}

	play(t, s, m.ID, "u2", true, false, false, false)
	got, _ = s.GetMatch(ctx, m.ID)
	if got.Status != domain.MatchFinished || got.WinnerID != "u1" || got.EndReason != ReasonCompleted {
		t.Fatalf("unexpected final row: %+v", got)
	}
	if got.Player1Delta != 32 || got.Player2Delta != -32 {
		t.Fatalf("calibration deltas = %d/%d, want 32/-32", got.Player1Delta, got.Player2Delta)
	}
	if len(hooked) != 1 || hooked[0].ID != m.ID {
		t.Fatalf("finish hook calls = %d", len(hooked))
	}

	again, err := s.FinishMatch(ctx, m.ID, "u2")
	if err != nil || again.Version != got.Version {
		t.Fatalf("FinishMatch on finished row changed it: %+v %v", again, err)
	}
	if _, err := s.SubmitMove(ctx, m.ID, "u2", true, 0); !errors.Is(err, domain.ErrMatchFinished) {
		t.Fatalf("move after finish = %v", err)
	}

	p1, _ := s.Profile(ctx, "u1")
	p2, _ := s.Profile(ctx, "u2")
	if p1.Rating != 1032 || p1.Wins != 1 || p1.MatchesPlayed != 1 {
		t.Fatalf("winner profile: %+v", p1)
	}
	if p2.Rating != 968 || p2.Losses != 1 {
		t.Fatalf("loser profile: %+v", p2)
	}
	board, err := s.Leaderboard(ctx, 10)
	if err != nil || len(board) != 2 || board[0].PlayerID != "u1" || board[0].Rank != 1 || board[0].Name != "name-u1" {
		t.Fatalf("leaderboard = %+v, %v", board, err)
	}
}

func TestDrawOnEqualScores(t *testing.T) {
	s, _ := newTestStore(t)
	m := startDuel(t, s)
	play(t, s, m.ID, "u1", true, false, true, false)
	play(t, s, m.ID, "u2", false, true, false, true)
	got, _ := s.GetMatch(context.Background(), m.ID)
	if got.Status != domain.MatchFinished || got.WinnerID != "" || got.Player1Delta != 0 {
		t.Fatalf("expected rated draw, got %+v", got)
	}
}

func TestCalibrationEndsAfterSeries(t *testing.T) {
	p := &domain.Profile{Rating: 1000}
	if d := applyResult(p, 1000, 1); d != 32 {
		t.Fatalf("provisional win delta = %d, want 32", d)
	}
	p = &domain.Profile{Rating: 1000, MatchesPlayed: CalibrationMatches}
	if d := applyResult(p, 1000, 1); d != 16 {
		t.Fatalf("calibrated win delta = %d, want 16", d)
	}
	p = &domain.Profile{Rating: 110, MatchesPlayed: CalibrationMatches}
	applyResult(p, 2000, 0)
	if p.Rating < minRating {
		t.Fatalf("rating fell below floor: %d", p.Rating)
	}
}

func TestBotMatchRatesOnlyHuman(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m, _ := s.CreateMatch(ctx, player("u1", 1000), nil)
	botID := bot.PlayerID(m.ID)
	if _, err := s.ConvertToBot(ctx, m.ID, botID, bot.Name(m.ID), 1050); err != nil {
		t.Fatalf("ConvertToBot: %v", err)
	}
	play(t, s, m.ID, botID, false, false, true, false)
	play(t, s, m.ID, "u1", true, true, true, true)

	got, _ := s.GetMatch(ctx, m.ID)
	if got.WinnerID != "u1" || got.Player1Delta != 37 || got.Player2Delta != 0 {
		t.Fatalf("unexpected bot result: %+v", got)
	}
	board, _ := s.Leaderboard(ctx, 10)
	if len(board) != 1 {
		t.Fatalf("bot appeared on leaderboard: %+v", board)
	}
}

func TestSurrender(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m := startDuel(t, s)

	got, err := s.SurrenderMatch(ctx, m.ID, "u2")
	if err != nil {
		t.Fatalf("SurrenderMatch: %v", err)
	}
	if got.WinnerID != "u1" || got.EndReason != ReasonSurrender || got.Status != domain.MatchFinished {
		t.Fatalf("unexpected row: %+v", got)
	}
	if _, err := s.SurrenderMatch(ctx, m.ID, "u1"); !errors.Is(err, domain.ErrMatchFinished) {
		t.Fatalf("second surrender = %v", err)
	}
}

func TestClaimTimeoutWin(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	m := startDuel(t, s)

	if _, err := s.ClaimTimeoutWin(ctx, m.ID, "u1"); !errors.Is(err, domain.ErrOpponentAlive) {
		t.Fatalf("claim against live opponent = %v", err)
	}
	clk.Advance(100 * time.Second)
	if err := s.Heartbeat(ctx, m.ID, "u1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	clk.Advance(21 * time.Second)
	if _, err := s.ClaimTimeoutWin(ctx, m.ID, "u2"); !errors.Is(err, domain.ErrOpponentAlive) {
		t.Fatalf("claim against heartbeating opponent = %v", err)
	}
	got, err := s.ClaimTimeoutWin(ctx, m.ID, "u1")
	if err != nil {
		t.Fatalf("ClaimTimeoutWin: %v", err)
	}
	if got.WinnerID != "u1" || got.EndReason != ReasonTimeout {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestClaimAgainstBotRejected(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	m, _ := s.CreateMatch(ctx, player("u1", 1000), nil)
	if _, err := s.ConvertToBot(ctx, m.ID, bot.PlayerID(m.ID), "bot", 900); err != nil {
		t.Fatalf("ConvertToBot: %v", err)
	}
	clk.Advance(time.Hour)
	if _, err := s.ClaimTimeoutWin(ctx, m.ID, "u1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("claim against bot = %v", err)
	}
}

func TestSubscribeStreamsVersions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := startDuel(t, s)

	ch, err := s.Subscribe(ctx, m.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	next := func() domain.Match {
		t.Helper()
		select {
		case row := <-ch:
			return row
		case <-time.After(2 * time.Second):
			t.Fatalf("no feed update")
		}
		return domain.Match{}
	}
	if first := next(); first.Version != m.Version {
		t.Fatalf("initial row version = %d, want %d", first.Version, m.Version)
	}
	if err := s.Heartbeat(ctx, m.ID, "u2"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if row := next(); row.Version != m.Version+1 {
		t.Fatalf("update version = %d, want %d", row.Version, m.Version+1)
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("feed not closed after cancel")
	}
}

func TestMatchesByPlayer(t *testing.T) {
	s, _ := newTestStore(t)
	m := startDuel(t, s)
	list, err := s.MatchesByPlayer(context.Background(), "u2")
	if err != nil || len(list) != 1 || list[0].ID != m.ID {
		t.Fatalf("MatchesByPlayer = %+v, %v", list, err)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@localhost:6380/3")
	if err != nil {
		t.Fatalf("ParseRedisURL: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 3 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := ParseRedisURL("http://localhost"); err == nil {
		t.Fatalf("expected scheme error")
	}
}
