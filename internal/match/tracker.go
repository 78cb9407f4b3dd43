package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/answer"
	"github.com/park285/mathlab-pvp/internal/bot"
	"github.com/park285/mathlab-pvp/internal/clock"
	"github.com/park285/mathlab-pvp/internal/domain"
)

type ChangeCallback func(Snapshot)

type changeEntry struct {
	id       int
	callback ChangeCallback
}

type Option func(*Tracker)

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clk = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithTimings(tm Timings) Option {
	return func(t *Tracker) { t.timings = tm }
}

func WithMatchSize(n int) Option {
	return func(t *Tracker) { t.matchSize = n }
}

func WithRatingRange(n int) Option {
	return func(t *Tracker) { t.ratingRange = n }
}

func WithFinishPolicy(p FinishPolicy) Option {
	return func(t *Tracker) { t.policy = p }
}

// WithDispatcher replaces how fire-and-forget remote calls are run.
// The default starts a goroutine per call.
func WithDispatcher(d func(func())) Option {
	return func(t *Tracker) { t.dispatch = d }
}

// Tracker owns the local state of one duel at a time.
type Tracker struct {
	auth        Authority
	player      domain.Player
	clk         clock.Clock
	logger      *zap.Logger
	timings     Timings
	matchSize   int
	ratingRange int
	policy      FinishPolicy
	dispatch    func(func())

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	phase   Phase
	epoch   uint64
	closed  bool
	pending []func()

	matchID  string
	mode     domain.MatchMode
	version  int64
	problems []domain.Problem
	index    int
	score    int
	timeLeft int
	feedback *Feedback

	opp          Opponent
	oppLastSeen  time.Time
	disconnected bool
	claimed      bool

	winnerID    string
	endReason   string
	ratingDelta int

	questionTimer  clock.Timer
	feedbackTimer  clock.Timer
	fallbackTimer  clock.Timer
	heartbeatTimer clock.Timer
	pacer          *bot.Pacer
	feedCancel     context.CancelFunc

	cbM    sync.RWMutex
	cbs    []changeEntry
	nextCb int
}

func NewTracker(auth Authority, player domain.Player, opts ...Option) *Tracker {
	t := &Tracker{
		auth:        auth,
		player:      player,
		clk:         clock.Real(),
		logger:      zap.NewNop(),
		timings:     DefaultTimings(),
		matchSize:   10,
		ratingRange: 200,
		policy:      FinishAwait,
		dispatch:    func(f func()) { go f() },
		phase:       PhaseLobby,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if t.clk == nil {
		t.clk = clock.Real()
	}
	if t.timings.CallTimeout <= 0 {
		t.timings.CallTimeout = DefaultTimings().CallTimeout
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// FindMatch enters matchmaking: join an open match within the rating range,
// or create one and wait for a human until the bot fallback fires.
func (t *Tracker) FindMatch(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.phase != PhaseLobby {
		t.mu.Unlock()
		return ErrInvalidPhase
	}
	t.resetLocked()
	t.setPhaseLocked(PhaseSearching)
	epoch := t.epoch
	t.commit()

	m, problems, err := t.matchmake(ctx)
	if err != nil {
		t.mu.Lock()
		if t.epoch == epoch {
			t.resetLocked()
			t.setPhaseLocked(PhaseLobby)
		}
		t.commit()
		t.logger.Warn("duel_matchmaking_error", zap.String("player_id", t.player.ID), zap.Error(err))
		return err
	}

	t.mu.Lock()
	if t.epoch != epoch || t.phase != PhaseSearching {
		// cancelled while the authority was busy: give the match back
		t.pending = append(t.pending, t.abandonCall(m))
		t.commit()
		return ErrCancelled
	}
	t.attachLocked(m, problems)
	if m.Status == domain.MatchActive && t.opp.ID != "" {
		t.activateLocked()
	} else {
		t.armFallbackLocked()
	}
	id := t.matchID
	t.commit()

	t.logger.Info("duel_match_attach",
		zap.String("match_id", id),
		zap.String("player_id", t.player.ID),
		zap.String("status", string(m.Status)),
	)
	t.startFeed(id)
	return nil
}

func (t *Tracker) matchmake(ctx context.Context) (*domain.Match, []domain.Problem, error) {
	open, err := t.auth.FindOpenMatch(ctx, t.player, t.ratingRange)
	if err != nil {
		return nil, nil, fmt.Errorf("find open match: %w", err)
	}
	if open != nil {
		joined, err := t.auth.JoinMatch(ctx, open.ID, t.player)
		switch {
		case err == nil:
			problems, err := t.auth.FetchProblems(ctx, joined.ProblemIDs)
			if err != nil {
				return nil, nil, fmt.Errorf("fetch problems: %w", err)
			}
			return joined, orderProblems(joined.ProblemIDs, problems), nil
		case errors.Is(err, domain.ErrMatchFull), errors.Is(err, domain.ErrMatchNotFound), errors.Is(err, domain.ErrSelfJoin):
			// lost the race for this one; host our own
			t.logger.Info("duel_join_skipped", zap.String("match_id", open.ID), zap.Error(err))
		default:
			return nil, nil, fmt.Errorf("join match: %w", err)
		}
	}

	problems, err := t.auth.SampleProblems(ctx, t.matchSize)
	if err != nil {
		return nil, nil, fmt.Errorf("sample problems: %w", err)
	}
	ids := make([]string, 0, len(problems))
	for _, p := range problems {
		ids = append(ids, p.ID)
	}
	created, err := t.auth.CreateMatch(ctx, t.player, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("create match: %w", err)
	}
	return created, orderProblems(created.ProblemIDs, problems), nil
}

// Attach binds the tracker to an existing match: a tournament pairing or a
// reconnect. A match the authority no longer knows is shown as finished.
func (t *Tracker) Attach(ctx context.Context, matchID string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.phase != PhaseLobby {
		t.mu.Unlock()
		return ErrInvalidPhase
	}
	t.resetLocked()
	t.setPhaseLocked(PhaseSearching)
	epoch := t.epoch
	t.commit()

	m, err := t.auth.GetMatch(ctx, matchID)
	var problems []domain.Problem
	if err == nil && !terminal(m.Status) {
		problems, err = t.auth.FetchProblems(ctx, m.ProblemIDs)
		problems = orderProblems(m.ProblemIDs, problems)
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.commit()
		return ErrCancelled
	}
	switch {
	case errors.Is(err, domain.ErrMatchNotFound):
		t.matchID = matchID
		t.finishLocked("", ReasonNotFound, 0)
		t.commit()
		return nil
	case err != nil:
		t.resetLocked()
		t.setPhaseLocked(PhaseLobby)
		t.commit()
		return err
	}
	self, _, ok := m.Side(t.player.ID)
	if !ok {
		t.resetLocked()
		t.setPhaseLocked(PhaseLobby)
		t.commit()
		return domain.ErrNotParticipant
	}
	t.attachLocked(m, problems)
	switch {
	case terminal(m.Status):
		t.finishLocked(m.WinnerID, endReason(m), self.Delta)
	case m.Status == domain.MatchActive && t.opp.ID != "":
		t.activateLocked()
	default:
		t.armFallbackLocked()
	}
	finished := t.phase == PhaseFinished
	t.commit()

	if !finished {
		t.startFeed(matchID)
	}
	return nil
}

// Resumable picks the match a player should be attached to on start: the
// first active match in ms (newest first) with playerID seated. Waiting
// matches are left to expire rather than resumed.
func Resumable(ms []*domain.Match, playerID string) *domain.Match {
	for _, m := range ms {
		if m == nil || m.Status != domain.MatchActive {
			continue
		}
		if _, _, ok := m.Side(playerID); ok {
			return m
		}
	}
	return nil
}

// Cancel abandons matchmaking. Only valid while searching.
func (t *Tracker) Cancel() error {
	t.mu.Lock()
	if t.phase != PhaseSearching {
		t.mu.Unlock()
		return ErrInvalidPhase
	}
	id := t.matchID
	t.stopTimersLocked()
	t.stopFeedLocked()
	t.resetLocked()
	t.setPhaseLocked(PhaseLobby)
	if id != "" {
		t.pending = append(t.pending, t.cancelCall(id))
	}
	t.commit()
	t.logger.Info("duel_search_cancel", zap.String("match_id", id), zap.String("player_id", t.player.ID))
	return nil
}

// Submit grades an answer for the current question and advances local
// progress. The move is persisted in the background; failures are logged.
func (t *Tracker) Submit(input string) (Feedback, error) {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return Feedback{}, ErrClosed
	case t.phase != PhaseActive:
		t.mu.Unlock()
		return Feedback{}, ErrInvalidPhase
	case t.feedback != nil:
		t.mu.Unlock()
		return Feedback{}, ErrFeedbackPending
	case t.index >= len(t.problems):
		t.mu.Unlock()
		return Feedback{}, ErrAwaitingResult
	}
	correct := answer.Equal(input, t.problems[t.index].Answer)
	fb := t.answerLocked(correct, false)
	t.commit()
	return fb, nil
}

// Surrender concedes the active match. The authority records it first; the
// tracker only finishes once that succeeded.
func (t *Tracker) Surrender(ctx context.Context) error {
	t.mu.Lock()
	if t.phase != PhaseActive {
		t.mu.Unlock()
		return ErrInvalidPhase
	}
	id, oppID := t.matchID, t.opp.ID
	t.mu.Unlock()

	m, err := t.auth.SurrenderMatch(ctx, id, t.player.ID)
	if err != nil {
		if errors.Is(err, domain.ErrMatchFinished) {
			if row, gerr := t.auth.GetMatch(ctx, id); gerr == nil && row != nil {
				t.ApplyRemote(*row)
			}
		}
		return fmt.Errorf("surrender: %w", err)
	}

	t.mu.Lock()
	if t.matchID != id || t.phase == PhaseFinished {
		t.mu.Unlock()
		return nil
	}
	winner, delta := oppID, 0
	if m != nil && m.Version > t.version {
		t.version = m.Version
		if self, _, ok := m.Side(t.player.ID); ok {
			delta = self.Delta
		}
		if m.WinnerID != "" {
			winner = m.WinnerID
		}
	}
	t.finishLocked(winner, ReasonSurrender, delta)
	t.commit()
	t.logger.Info("duel_surrender", zap.String("match_id", id), zap.String("player_id", t.player.ID))
	return nil
}

// ApplyRemote folds an authority row into the local mirror. Rows older than
// the last applied version are dropped; the player's own score and progress
// are never taken from the row.
func (t *Tracker) ApplyRemote(m domain.Match) {
	t.mu.Lock()
	if t.closed || m.ID == "" || m.ID != t.matchID || m.Version <= t.version {
		t.mu.Unlock()
		return
	}
	self, opp, ok := m.Side(t.player.ID)
	if !ok {
		t.mu.Unlock()
		return
	}
	t.version = m.Version

	switch t.phase {
	case PhaseSearching:
		switch {
		case m.Status == domain.MatchCancelled:
			t.stopTimersLocked()
			t.stopFeedLocked()
			t.resetLocked()
			t.setPhaseLocked(PhaseLobby)
		case m.Status == domain.MatchFinished:
			t.mirrorOpponentLocked(&m, opp)
			t.finishLocked(m.WinnerID, endReason(&m), self.Delta)
		case m.Status == domain.MatchActive && opp.ID != "":
			t.mode = m.Mode
			t.mirrorOpponentLocked(&m, opp)
			t.activateLocked()
		}
	case PhaseActive:
		if !t.opp.Bot {
			t.opp.Score = opp.Score
			t.opp.Progress = opp.Progress
		}
		if opp.LastSeen.After(t.oppLastSeen) {
			t.oppLastSeen = opp.LastSeen
			if t.disconnected && !t.staleLocked() {
				t.disconnected = false
			}
		}
		if terminal(m.Status) {
			t.finishLocked(m.WinnerID, endReason(&m), self.Delta)
		}
	case PhaseFinished:
		// the authority's result replaces any local speculation
		if terminal(m.Status) {
			t.winnerID = m.WinnerID
			t.endReason = endReason(&m)
			t.ratingDelta = self.Delta
			t.opp.Score = opp.Score
			t.opp.Progress = opp.Progress
			t.stopPacerLocked()
		}
	}
	t.commit()
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// OnChange registers cb to receive a snapshot after every state change.
func (t *Tracker) OnChange(cb ChangeCallback) int {
	t.cbM.Lock()
	defer t.cbM.Unlock()
	t.nextCb++
	t.cbs = append(t.cbs, changeEntry{id: t.nextCb, callback: cb})
	return t.nextCb
}

func (t *Tracker) RemoveChangeCallback(id int) {
	t.cbM.Lock()
	defer t.cbM.Unlock()
	for i, cb := range t.cbs {
		if cb.id == id {
			t.cbs = append(t.cbs[:i], t.cbs[i+1:]...)
			break
		}
	}
}

// Close stops every timer, the bot and the feed. The tracker is unusable afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.epoch++
	t.stopTimersLocked()
	t.stopPacerLocked()
	t.stopFeedLocked()
	t.mu.Unlock()

	t.cbM.Lock()
	t.cbs = nil
	t.cbM.Unlock()
	t.cancel()
}

// commit releases the lock, then publishes the new snapshot and runs the
// remote calls queued while it was held.
func (t *Tracker) commit() {
	snap := t.snapshotLocked()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	t.cbM.RLock()
	callbacks := make([]changeEntry, len(t.cbs))
	copy(callbacks, t.cbs)
	t.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(snap)
		}
	}
	for _, f := range pending {
		t.dispatch(f)
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:                t.phase,
		MatchID:              t.matchID,
		Mode:                 t.mode,
		Total:                len(t.problems),
		Index:                t.index,
		Score:                t.score,
		TimeLeft:             t.timeLeft,
		Opponent:             t.opp,
		OpponentDisconnected: t.disconnected,
		WinnerID:             t.winnerID,
		EndReason:            t.endReason,
		RatingDelta:          t.ratingDelta,
	}
	if t.feedback != nil {
		fb := *t.feedback
		s.Feedback = &fb
	}
	if t.phase == PhaseActive && t.feedback == nil && t.index < len(t.problems) {
		p := t.problems[t.index]
		s.Question = &Question{Index: t.index, ID: p.ID, Topic: p.Topic, Prompt: p.Prompt}
	}
	if t.phase == PhaseFinished && t.endReason != ReasonNotFound {
		switch t.winnerID {
		case "":
			s.Outcome = OutcomeDraw
		case t.player.ID:
			s.Outcome = OutcomeWin
		default:
			s.Outcome = OutcomeLoss
		}
	}
	return s
}

func (t *Tracker) setPhaseLocked(p Phase) {
	t.phase = p
	t.epoch++
}

func (t *Tracker) resetLocked() {
	t.matchID = ""
	t.mode = ""
	t.version = 0
	t.problems = nil
	t.index, t.score, t.timeLeft = 0, 0, 0
	t.feedback = nil
	t.opp = Opponent{}
	t.oppLastSeen = time.Time{}
	t.disconnected, t.claimed = false, false
	t.winnerID, t.endReason, t.ratingDelta = "", "", 0
}

func (t *Tracker) attachLocked(m *domain.Match, problems []domain.Problem) {
	t.matchID = m.ID
	t.mode = m.Mode
	t.version = m.Version
	t.problems = problems
	if self, opp, ok := m.Side(t.player.ID); ok {
		// resuming: the row is the baseline, not an advance
		t.score = self.Score
		t.index = self.Progress
		if t.index > len(problems) {
			t.index = len(problems)
		}
		t.mirrorOpponentLocked(m, opp)
	}
}

func (t *Tracker) mirrorOpponentLocked(m *domain.Match, opp domain.PlayerSide) {
	if opp.ID == "" {
		return
	}
	t.opp = Opponent{
		ID:       opp.ID,
		Name:     opp.Name,
		Rating:   opp.Rating,
		Score:    opp.Score,
		Progress: opp.Progress,
		Bot:      m.Mode == domain.ModeBot || bot.IsBotID(opp.ID),
	}
	if opp.LastSeen.After(t.oppLastSeen) {
		t.oppLastSeen = opp.LastSeen
	}
}

func (t *Tracker) activateLocked() {
	t.stopTimer(&t.fallbackTimer)
	t.setPhaseLocked(PhaseActive)
	if now := t.clk.Now(); t.oppLastSeen.Before(now) {
		t.oppLastSeen = now
	}
	if t.index < len(t.problems) {
		t.startQuestionLocked()
	}
	t.armHeartbeatLocked()
	if t.opp.Bot {
		t.startPacerLocked()
	}
	t.logger.Info("duel_active",
		zap.String("match_id", t.matchID),
		zap.String("opponent_id", t.opp.ID),
		zap.Bool("bot", t.opp.Bot),
	)
}

func (t *Tracker) finishLocked(winnerID, reason string, delta int) {
	t.setPhaseLocked(PhaseFinished)
	t.stopTimersLocked()
	t.feedback = nil
	t.timeLeft = 0
	t.disconnected = false
	if reason != ReasonOptimistic {
		t.stopPacerLocked()
	}
	t.winnerID = winnerID
	t.endReason = reason
	t.ratingDelta = delta
	t.logger.Info("duel_finished",
		zap.String("match_id", t.matchID),
		zap.String("winner_id", winnerID),
		zap.String("reason", reason),
		zap.Int("score", t.score),
		zap.Int("opponent_score", t.opp.Score),
	)
}

func (t *Tracker) startQuestionLocked() {
	t.timeLeft = t.timings.QuestionTicks
	t.armTickLocked()
}

func (t *Tracker) armTickLocked() {
	epoch, idx := t.epoch, t.index
	t.questionTimer = t.clk.AfterFunc(t.timings.Tick, func() { t.onTick(epoch, idx) })
}

func (t *Tracker) onTick(epoch uint64, idx int) {
	t.mu.Lock()
	if t.epoch != epoch || t.phase != PhaseActive || t.index != idx || t.feedback != nil {
		t.mu.Unlock()
		return
	}
	t.timeLeft--
	if t.timeLeft <= 0 {
		// expiry counts as a wrong answer
		t.answerLocked(false, true)
	} else {
		t.armTickLocked()
	}
	t.commit()
}

func (t *Tracker) answerLocked(correct, timedOut bool) Feedback {
	t.stopTimer(&t.questionTimer)
	qi := t.index
	if correct {
		t.score++
	}
	t.index++
	fb := Feedback{Index: qi, Correct: correct, TimedOut: timedOut, Expected: t.problems[qi].Answer}
	t.feedback = &fb
	t.timeLeft = 0
	t.pending = append(t.pending, t.persistMoveCall(t.matchID, t.player.ID, correct, qi))

	epoch := t.epoch
	t.feedbackTimer = t.clk.AfterFunc(t.timings.FeedbackDelay, func() { t.onFeedbackDone(epoch, qi) })

	t.logger.Debug("duel_answer",
		zap.String("match_id", t.matchID),
		zap.Int("index", qi),
		zap.Bool("correct", correct),
		zap.Bool("timed_out", timedOut),
	)
	if t.index >= len(t.problems) {
		t.lastAnswerLocked()
	}
	return fb
}

func (t *Tracker) onFeedbackDone(epoch uint64, qi int) {
	t.mu.Lock()
	if t.epoch != epoch || t.phase != PhaseActive || t.feedback == nil || t.feedback.Index != qi {
		t.mu.Unlock()
		return
	}
	t.feedback = nil
	if t.index < len(t.problems) {
		t.startQuestionLocked()
	}
	t.commit()
}

func (t *Tracker) lastAnswerLocked() {
	t.pending = append(t.pending, t.finishCall(t.matchID))
	if t.policy == FinishOptimistic && t.opp.Bot && t.score > t.opp.Score {
		t.finishLocked(t.player.ID, ReasonOptimistic, 0)
	}
}

func (t *Tracker) armFallbackLocked() {
	epoch := t.epoch
	t.fallbackTimer = t.clk.AfterFunc(t.timings.BotFallbackAfter, func() { t.onFallback(epoch) })
}

func (t *Tracker) onFallback(epoch uint64) {
	t.mu.Lock()
	if t.epoch != epoch || t.phase != PhaseSearching || t.matchID == "" {
		t.mu.Unlock()
		return
	}
	id := t.matchID
	tier := bot.TierFor(t.player.Rating)
	t.pending = append(t.pending, func() {
		ctx, cancel := t.callCtx()
		defer cancel()
		m, err := t.auth.ConvertToBot(ctx, id, bot.PlayerID(id), bot.Name(id), tier.ApproxRating)
		if err == nil && m != nil {
			t.ApplyRemote(*m)
			return
		}
		if errors.Is(err, domain.ErrMatchFull) {
			// a human got there first
			if row, gerr := t.auth.GetMatch(ctx, id); gerr == nil && row != nil {
				t.ApplyRemote(*row)
			}
			return
		}
		t.logger.Warn("duel_bot_fallback_error", zap.String("match_id", id), zap.Error(err))
		t.mu.Lock()
		if t.epoch == epoch && t.phase == PhaseSearching {
			t.armFallbackLocked()
		}
		t.mu.Unlock()
	})
	t.commit()
}

func (t *Tracker) armHeartbeatLocked() {
	epoch := t.epoch
	t.heartbeatTimer = t.clk.AfterFunc(t.timings.HeartbeatInterval, func() { t.onHeartbeat(epoch) })
}

func (t *Tracker) onHeartbeat(epoch uint64) {
	t.mu.Lock()
	if t.epoch != epoch || t.phase != PhaseActive {
		t.mu.Unlock()
		return
	}
	id := t.matchID
	t.pending = append(t.pending, t.heartbeatCall(id))
	if !t.opp.Bot {
		stale := t.staleLocked()
		switch {
		case stale && !t.disconnected:
			t.disconnected = true
			t.logger.Warn("duel_opponent_stale",
				zap.String("match_id", id),
				zap.String("opponent_id", t.opp.ID),
				zap.Time("last_seen", t.oppLastSeen),
			)
			if !t.claimed {
				// the authority decides; claim at most once per match
				t.claimed = true
				t.pending = append(t.pending, t.claimCall(id))
			}
		case !stale && t.disconnected:
			t.disconnected = false
		}
	}
	t.armHeartbeatLocked()
	t.commit()
}

func (t *Tracker) staleLocked() bool {
	return t.clk.Now().Sub(t.oppLastSeen) > t.timings.StaleAfter
}

func (t *Tracker) startPacerLocked() {
	t.stopPacerLocked()
	id := t.matchID
	t.pacer = bot.NewPacer(bot.Config{
		DuelID: id,
		Tier:   bot.TierFor(t.player.Rating),
		Total:  len(t.problems),
		Score:  t.opp.Score,
		Index:  t.opp.Progress,
		Clock:  t.clk,
		Emit:   func(p bot.Progress) { t.onBotProgress(id, p) },
	})
	t.pacer.Start()
}

func (t *Tracker) stopPacerLocked() {
	if t.pacer != nil {
		t.pacer.Stop()
		t.pacer = nil
	}
}

// onBotProgress mirrors a bot answer locally and records it with the
// authority so it can settle the match like any other.
func (t *Tracker) onBotProgress(matchID string, p bot.Progress) {
	t.mu.Lock()
	if t.closed || t.matchID != matchID || !t.opp.Bot {
		t.mu.Unlock()
		return
	}
	if t.phase == PhaseActive {
		t.opp.Score = p.Score
		t.opp.Progress = p.Index
	}
	if t.phase == PhaseActive || (t.phase == PhaseFinished && t.endReason == ReasonOptimistic) {
		t.pending = append(t.pending, t.persistMoveCall(matchID, t.opp.ID, p.Correct, p.Index-1))
	}
	t.commit()
}

func (t *Tracker) startFeed(matchID string) {
	ctx, cancel := context.WithCancel(t.ctx)
	t.mu.Lock()
	if t.closed || t.matchID != matchID {
		t.mu.Unlock()
		cancel()
		return
	}
	t.stopFeedLocked()
	t.feedCancel = cancel
	t.mu.Unlock()

	ch, err := t.auth.Subscribe(ctx, matchID)
	if err != nil {
		t.logger.Warn("duel_feed_subscribe_error", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	go func() {
		for m := range ch {
			t.ApplyRemote(m)
		}
	}()
}

func (t *Tracker) stopFeedLocked() {
	if t.feedCancel != nil {
		t.feedCancel()
		t.feedCancel = nil
	}
}

func (t *Tracker) stopTimersLocked() {
	t.stopTimer(&t.questionTimer)
	t.stopTimer(&t.feedbackTimer)
	t.stopTimer(&t.fallbackTimer)
	t.stopTimer(&t.heartbeatTimer)
}

func (t *Tracker) stopTimer(tm *clock.Timer) {
	if *tm != nil {
		(*tm).Stop()
		*tm = nil
	}
}

func (t *Tracker) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.ctx, t.timings.CallTimeout)
}

// Remote calls queued from under the lock.

func (t *Tracker) persistMoveCall(matchID, playerID string, correct bool, index int) func() {
	return func() {
		ctx, cancel := t.callCtx()
		defer cancel()
		if _, err := t.auth.SubmitMove(ctx, matchID, playerID, correct, index); err != nil {
			t.logger.Warn("duel_move_persist_error",
				zap.String("match_id", matchID),
				zap.String("player_id", playerID),
				zap.Int("index", index),
				zap.Error(err),
			)
		}
	}
}

func (t *Tracker) finishCall(matchID string) func() {
	return func() {
		ctx, cancel := t.callCtx()
		defer cancel()
		m, err := t.auth.FinishMatch(ctx, matchID, t.player.ID)
		if err != nil {
			t.logger.Warn("duel_finish_error", zap.String("match_id", matchID), zap.Error(err))
			return
		}
		if m != nil {
			t.ApplyRemote(*m)
		}
	}
}

func (t *Tracker) claimCall(matchID string) func() {
	return func() {
		ctx, cancel := t.callCtx()
		defer cancel()
		m, err := t.auth.ClaimTimeoutWin(ctx, matchID, t.player.ID)
		if err != nil {
			t.logger.Info("duel_timeout_claim_rejected", zap.String("match_id", matchID), zap.Error(err))
			return
		}
		if m != nil {
			t.ApplyRemote(*m)
		}
	}
}

func (t *Tracker) heartbeatCall(matchID string) func() {
	return func() {
		ctx, cancel := t.callCtx()
		defer cancel()
		if err := t.auth.Heartbeat(ctx, matchID, t.player.ID); err != nil {
			t.logger.Debug("duel_heartbeat_error", zap.String("match_id", matchID), zap.Error(err))
		}
	}
}

func (t *Tracker) cancelCall(matchID string) func() {
	return func() {
		ctx, cancel := t.callCtx()
		defer cancel()
		if err := t.auth.CancelMatch(ctx, matchID, t.player.ID); err != nil {
			t.logger.Warn("duel_cancel_error", zap.String("match_id", matchID), zap.Error(err))
		}
	}
}

// abandonCall releases a match obtained after the player cancelled: a
// waiting match is cancelled, an already paired one is conceded.
func (t *Tracker) abandonCall(m *domain.Match) func() {
	if m.Status == domain.MatchWaiting {
		return t.cancelCall(m.ID)
	}
	return func() {
		ctx, cancel := t.callCtx()
		defer cancel()
		if _, err := t.auth.SurrenderMatch(ctx, m.ID, t.player.ID); err != nil {
			t.logger.Warn("duel_abandon_error", zap.String("match_id", m.ID), zap.Error(err))
		}
	}
}

func terminal(s domain.MatchStatus) bool {
	return s == domain.MatchFinished || s == domain.MatchCancelled
}

func endReason(m *domain.Match) string {
	if m.EndReason != "" {
		return m.EndReason
	}
	if m.Status == domain.MatchCancelled {
		return ReasonCancelled
	}
	return string(m.Status)
}

// orderProblems returns problems in the order of ids, dropping unknown ones.
func orderProblems(ids []string, problems []domain.Problem) []domain.Problem {
	byID := make(map[string]domain.Problem, len(problems))
	for _, p := range problems {
		byID[p.ID] = p
	}
	out := make([]domain.Problem, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
