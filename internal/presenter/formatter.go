// Package presenter turns tracker snapshots and authority records into
// terminal text using the message catalog.
package presenter

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/bot"
	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/match"
	"github.com/park285/mathlab-pvp/internal/msgcat"
	"github.com/park285/mathlab-pvp/internal/obslog"
	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

// Calibration length used to flag provisional ratings.
const calibrationMatches = 5

type Formatter struct {
	cat *msgcat.Catalog
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	return &Formatter{cat: cat}
}

// render falls back to the key itself so a broken override never hides state.
func (f *Formatter) render(key string, data any) string {
	out, err := f.cat.Render(key, data)
	if err != nil {
		obslog.L().Warn("msgcat_render_error", zap.String("key", key), zap.Error(err))
		return key
	}
	return out
}

func (f *Formatter) Lobby() string { return f.render("lobby.idle", nil) }

func (f *Formatter) Searching(rating int) string {
	return f.render("lobby.searching", map[string]any{"Rating": rating})
}

func (f *Formatter) Cancelled() string { return f.render("lobby.cancelled", nil) }

func (f *Formatter) NothingToResume() string { return f.render("lobby.nothing_to_resume", nil) }

func (f *Formatter) Busy() string { return f.render("errors.busy", nil) }

// Found announces the opponent once a match becomes active.
func (f *Formatter) Found(s match.Snapshot) string {
	data := map[string]any{"Name": s.Opponent.Name, "Rating": s.Opponent.Rating, "Total": s.Total}
	if s.Opponent.Bot {
		data["Tier"] = tierName(s.Opponent.Rating)
		return f.render("match.found_bot", data)
	}
	return f.render("match.found_human", data)
}

func tierName(approx int) string {
	for _, t := range bot.Tiers() {
		if t.ApproxRating == approx {
			return t.Name
		}
	}
	return "bot"
}

// Snapshot renders the state worth showing for s.Phase.
func (f *Formatter) Snapshot(s match.Snapshot) string {
	switch s.Phase {
	case match.PhaseLobby:
		return f.Lobby()
	case match.PhaseFinished:
		return f.Result(s)
	case match.PhaseSearching:
		return ""
	}

	var lines []string
	if s.OpponentDisconnected {
		lines = append(lines, f.render("match.disconnected", map[string]any{"OpponentName": s.Opponent.Name}))
	}
	lines = append(lines, f.score(s))
	switch {
	case s.Feedback != nil:
		lines = append(lines, f.Feedback(*s.Feedback))
	case s.Question != nil:
		lines = append(lines, f.render("match.question", map[string]any{
			"Number": s.Question.Index + 1,
			"Total":  s.Total,
			"Topic":  s.Question.Topic,
			"Prompt": s.Question.Prompt,
		}))
	case s.Index >= s.Total:
		lines = append(lines, f.render("match.waiting", map[string]any{"OpponentName": s.Opponent.Name}))
	}
	return strings.Join(lines, "\n")
}

// Timer renders the remaining time on the current question.
func (f *Formatter) Timer(s match.Snapshot) string {
	return f.render("match.timer", map[string]any{"TimeLeft": s.TimeLeft})
}

func (f *Formatter) score(s match.Snapshot) string {
	return f.render("match.score", map[string]any{
		"Score":            s.Score,
		"Index":            s.Index,
		"Total":            s.Total,
		"OpponentName":     s.Opponent.Name,
		"OpponentScore":    s.Opponent.Score,
		"OpponentProgress": s.Opponent.Progress,
	})
}

func (f *Formatter) Feedback(fb match.Feedback) string {
	switch {
	case fb.Correct:
		return f.render("feedback.correct", nil)
	case fb.TimedOut:
		return f.render("feedback.timeout", map[string]any{"Expected": fb.Expected})
	default:
		return f.render("feedback.wrong", map[string]any{"Expected": fb.Expected})
	}
}

// Result renders a finished snapshot: outcome, reason and rating change.
func (f *Formatter) Result(s match.Snapshot) string {
	if s.EndReason == match.ReasonNotFound {
		return f.render("result.gone", nil)
	}
	data := map[string]any{"Score": s.Score, "OpponentScore": s.Opponent.Score, "OpponentName": s.Opponent.Name}
	key := "result.draw"
	switch s.Outcome {
	case match.OutcomeWin:
		key = "result.win"
	case match.OutcomeLoss:
		key = "result.loss"
	}
	parts := []string{f.render(key, data)}
	if rk := "result.reason." + s.EndReason; s.EndReason != "" && f.cat.Has(rk) {
		if r, err := f.cat.Render(rk, nil); err == nil && r != "" {
			parts[0] += " (" + r + ")"
		}
	}
	switch d := s.RatingDelta; {
	case d > 0:
		parts = append(parts, f.render("result.rating_up", map[string]any{"Delta": d}))
	case d < 0:
		parts = append(parts, f.render("result.rating_down", map[string]any{"Delta": -d}))
	}
	return strings.Join(parts, "\n")
}

// Error maps tracker errors to short hints.
func (f *Formatter) Error(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, match.ErrFeedbackPending):
		return f.render("errors.feedback_pending", nil)
	case errors.Is(err, match.ErrAwaitingResult):
		return f.render("errors.awaiting_result", nil)
	case errors.Is(err, match.ErrInvalidPhase):
		return f.render("errors.not_active", nil)
	}
	return f.render("errors.generic", map[string]any{"Error": err.Error()})
}

func (f *Formatter) Leaderboard(entries []domain.LeaderboardEntry) string {
	if len(entries) == 0 {
		return f.render("leaderboard.empty", nil)
	}
	lines := []string{f.render("leaderboard.header", nil)}
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = e.PlayerID
		}
		lines = append(lines, f.render("leaderboard.row", map[string]any{"Rank": e.Rank, "Name": name, "Rating": e.Rating}))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) Profile(p *domain.Profile) string {
	if p == nil {
		return ""
	}
	name := p.Name
	if name == "" {
		name = p.PlayerID
	}
	return f.render("profile.summary", map[string]any{
		"Name":        name,
		"Rating":      p.Rating,
		"Provisional": !p.Calibrated(calibrationMatches),
		"Wins":        p.Wins,
		"Losses":      p.Losses,
		"Draws":       p.Draws,
	})
}

func (f *Formatter) Tournament(t *dueldto.Tournament) string {
	if t == nil {
		return ""
	}
	lines := []string{f.render("tournament.header", map[string]any{"Name": t.Name, "Round": t.Round, "Rounds": t.Rounds})}
	for _, p := range t.Pairings {
		if p.Round != t.Round {
			continue
		}
		if p.Player2 == "" {
			lines = append(lines, f.render("tournament.bye", map[string]any{"Player1": p.Player1}))
			continue
		}
		lines = append(lines, f.render("tournament.pairing", map[string]any{"Player1": p.Player1, "Player2": p.Player2, "Winner": p.Winner}))
	}
	if t.Champion != "" {
		lines = append(lines, f.render("tournament.champion", map[string]any{"Champion": t.Champion}))
	}
	return strings.Join(lines, "\n")
}
