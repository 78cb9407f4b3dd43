package dueldto

import (
	"errors"

	"github.com/park285/mathlab-pvp/internal/domain"
)

func FromMatch(m *domain.Match) *Match {
	if m == nil {
		return nil
	}
	return &Match{
		ID:              m.ID,
		Mode:            string(m.Mode),
		Status:          string(m.Status),
		ProblemIDs:      append([]string(nil), m.ProblemIDs...),
		TournamentID:    m.TournamentID,
		Player1ID:       m.Player1ID,
		Player1Name:     m.Player1Name,
		Player1Rating:   m.Player1Rating,
		Player1Score:    m.Player1Score,
		Player1Progress: m.Player1Progress,
		Player1LastSeen: m.Player1LastSeen,
		Player2ID:       m.Player2ID,
		Player2Name:     m.Player2Name,
		Player2Rating:   m.Player2Rating,
		Player2Score:    m.Player2Score,
		Player2Progress: m.Player2Progress,
		Player2LastSeen: m.Player2LastSeen,
		WinnerID:        m.WinnerID,
		EndReason:       m.EndReason,
		Player1Delta:    m.Player1Delta,
		Player2Delta:    m.Player2Delta,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func (m *Match) ToDomain() *domain.Match {
	if m == nil {
		return nil
	}
	return &domain.Match{
		ID:              m.ID,
		Mode:            domain.MatchMode(m.Mode),
		Status:          domain.MatchStatus(m.Status),
		ProblemIDs:      append([]string(nil), m.ProblemIDs...),
		TournamentID:    m.TournamentID,
		Player1ID:       m.Player1ID,
		Player1Name:     m.Player1Name,
		Player1Rating:   m.Player1Rating,
		Player1Score:    m.Player1Score,
		Player1Progress: m.Player1Progress,
		Player1LastSeen: m.Player1LastSeen,
		Player2ID:       m.Player2ID,
		Player2Name:     m.Player2Name,
		Player2Rating:   m.Player2Rating,
		Player2Score:    m.Player2Score,
		Player2Progress: m.Player2Progress,
		Player2LastSeen: m.Player2LastSeen,
		WinnerID:        m.WinnerID,
		EndReason:       m.EndReason,
		Player1Delta:    m.Player1Delta,
		Player2Delta:    m.Player2Delta,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func FromProblem(p domain.Problem) Problem {
	return Problem{ID: p.ID, Topic: p.Topic, Difficulty: p.Difficulty, Prompt: p.Prompt, Answer: p.Answer}
}

func (p Problem) ToDomain() domain.Problem {
	return domain.Problem{ID: p.ID, Topic: p.Topic, Difficulty: p.Difficulty, Prompt: p.Prompt, Answer: p.Answer}
}

func FromMoveAck(a *domain.MoveAck) *MoveAck {
	if a == nil {
		return nil
	}
	return &MoveAck{MatchID: a.MatchID, PlayerID: a.PlayerID, Score: a.Score, Progress: a.Progress, Status: string(a.Status), Duplicate: a.Duplicate, Version: a.Version}
}

func (a *MoveAck) ToDomain() *domain.MoveAck {
	if a == nil {
		return nil
	}
	return &domain.MoveAck{MatchID: a.MatchID, PlayerID: a.PlayerID, Score: a.Score, Progress: a.Progress, Status: domain.MatchStatus(a.Status), Duplicate: a.Duplicate, Version: a.Version}
}

func FromProfile(p *domain.Profile) *Profile {
	if p == nil {
		return nil
	}
	return &Profile{PlayerID: p.PlayerID, Name: p.Name, Rating: p.Rating, MatchesPlayed: p.MatchesPlayed, Wins: p.Wins, Losses: p.Losses, Draws: p.Draws, UpdatedAt: p.UpdatedAt}
}

func (p *Profile) ToDomain() *domain.Profile {
	if p == nil {
		return nil
	}
	return &domain.Profile{PlayerID: p.PlayerID, Name: p.Name, Rating: p.Rating, MatchesPlayed: p.MatchesPlayed, Wins: p.Wins, Losses: p.Losses, Draws: p.Draws, UpdatedAt: p.UpdatedAt}
}

var codeErrors = map[string]error{
	CodeNotFound:       domain.ErrMatchNotFound,
	CodeFinished:       domain.ErrMatchFinished,
	CodeFull:           domain.ErrMatchFull,
	CodeSelfJoin:       domain.ErrSelfJoin,
	CodeNotParticipant: domain.ErrNotParticipant,
	CodeInvalidState:   domain.ErrInvalidState,
	CodeInvalidMove:    domain.ErrInvalidMove,
	CodeOpponentAlive:  domain.ErrOpponentAlive,
	CodeInvalidArgs:    domain.ErrInvalidArgs,
}

// ErrorFor maps a domain failure to its wire form. Unknown errors become
// CodeInternal and keep their message.
func ErrorFor(err error) Error {
	for code, target := range codeErrors {
		if errors.Is(err, target) {
			return Error{Code: code, Message: target.Error()}
		}
	}
	return Error{Code: CodeInternal, Message: err.Error(), Retryable: true}
}

// Unwrap lets callers match wire errors with errors.Is against domain sentinels.
func (e Error) Unwrap() error { return codeErrors[e.Code] }
