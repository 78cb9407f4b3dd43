// Package match tracks one duel from the local player's point of view.
//
// The tracker is a best-effort mirror of the remote authority: local answers
// advance the player's own progress immediately, remote notifications only
// ever touch the opponent's mirrored fields, and the authority's finished
// signal always wins over local bookkeeping.
package match

import (
	"context"
	"errors"
	"time"

	"github.com/park285/mathlab-pvp/internal/domain"
)

// Phase is the local lifecycle of a match. The only backward transition is
// searching → lobby on Cancel.
type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseSearching Phase = "searching"
	PhaseActive    Phase = "active"
	PhaseFinished  Phase = "finished"
)

// FinishPolicy decides what happens when the player answers the last question.
type FinishPolicy string

const (
	// FinishAwait always waits for the authority's finished signal.
	FinishAwait FinishPolicy = "await"
	// FinishOptimistic declares a local win against a bot when the player
	// finishes ahead; the authority's result still overrides it later.
	FinishOptimistic FinishPolicy = "optimistic"
)

func ParseFinishPolicy(s string) (FinishPolicy, bool) {
	switch FinishPolicy(s) {
	case FinishAwait, FinishOptimistic:
		return FinishPolicy(s), true
	}
	return FinishAwait, false
}

type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// End reasons set locally. Authority reasons are passed through verbatim.
const (
	ReasonSurrender  = "surrender"
	ReasonOptimistic = "optimistic"
	ReasonNotFound   = "not_found"
	ReasonCancelled  = "cancelled"
)

var (
	ErrInvalidPhase    = errors.New("operation not allowed in current phase")
	ErrFeedbackPending = errors.New("previous answer feedback still shown")
	ErrAwaitingResult  = errors.New("all questions answered, awaiting result")
	ErrCancelled       = errors.New("matchmaking cancelled")
	ErrClosed          = errors.New("tracker closed")
)

// Authority is the remote source of truth for matches. FindOpenMatch returns
// (nil, nil) when nothing suitable is open.
type Authority interface {
	FindOpenMatch(ctx context.Context, p domain.Player, ratingRange int) (*domain.Match, error)
	SampleProblems(ctx context.Context, n int) ([]domain.Problem, error)
	FetchProblems(ctx context.Context, ids []string) ([]domain.Problem, error)
	CreateMatch(ctx context.Context, p domain.Player, problemIDs []string) (*domain.Match, error)
	JoinMatch(ctx context.Context, matchID string, p domain.Player) (*domain.Match, error)
	CancelMatch(ctx context.Context, matchID, playerID string) error
	ConvertToBot(ctx context.Context, matchID, botID, botName string, botRating int) (*domain.Match, error)
	SubmitMove(ctx context.Context, matchID, playerID string, correct bool, index int) (*domain.MoveAck, error)
	FinishMatch(ctx context.Context, matchID, playerID string) (*domain.Match, error)
	SurrenderMatch(ctx context.Context, matchID, playerID string) (*domain.Match, error)
	ClaimTimeoutWin(ctx context.Context, matchID, claimantID string) (*domain.Match, error)
	Heartbeat(ctx context.Context, matchID, playerID string) error
	GetMatch(ctx context.Context, matchID string) (*domain.Match, error)
	Subscribe(ctx context.Context, matchID string) (<-chan domain.Match, error)
}

// Timings groups every fixed duration the tracker uses.
type Timings struct {
	QuestionTicks     int
	Tick              time.Duration
	FeedbackDelay     time.Duration
	BotFallbackAfter  time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	CallTimeout       time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		QuestionTicks:     60,
		Tick:              time.Second,
		FeedbackDelay:     time.Second,
		BotFallbackAfter:  7 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		StaleAfter:        120 * time.Second,
		CallTimeout:       10 * time.Second,
	}
}

// Feedback describes the player's last answer while it is shown.
type Feedback struct {
	Index    int
	Correct  bool
	TimedOut bool
	Expected string
}

type Question struct {
	Index  int
	ID     string
	Topic  string
	Prompt string
}

type Opponent struct {
	ID       string
	Name     string
	Rating   int
	Score    int
	Progress int
	Bot      bool
}

// Snapshot is an immutable copy of the tracker state.
type Snapshot struct {
	Phase    Phase
	MatchID  string
	Mode     domain.MatchMode
	Total    int
	Index    int
	Score    int
	Question *Question
	TimeLeft int
	Feedback *Feedback

	Opponent             Opponent
	OpponentDisconnected bool

	WinnerID    string
	EndReason   string
	Outcome     Outcome
	RatingDelta int
}
