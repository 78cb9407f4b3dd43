package remote

import (
	"context"
	"strings"

	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

// Reads and heartbeats are retried; calls that change a match are sent once
// and their failures left to the caller.

func (c *Client) FindOpenMatch(ctx context.Context, p domain.Player, ratingRange int) (*domain.Match, error) {
	var out *dueldto.Match
	in := dueldto.FindOpenMatchParams{PlayerID: p.ID, Rating: p.Rating, Range: ratingRange}
	if err := c.call(ctx, "find_open_match", in, &out, true); err != nil {
		return nil, err
	}
	if out == nil || out.ID == "" {
		return nil, nil
	}
	return out.ToDomain(), nil
}

func (c *Client) SampleProblems(ctx context.Context, n int) ([]domain.Problem, error) {
	return c.problems(ctx, dueldto.GetProblemsParams{Count: n})
}

func (c *Client) FetchProblems(ctx context.Context, ids []string) ([]domain.Problem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return c.problems(ctx, dueldto.GetProblemsParams{IDs: ids})
}

func (c *Client) problems(ctx context.Context, in dueldto.GetProblemsParams) ([]domain.Problem, error) {
	var out []dueldto.Problem
	if err := c.call(ctx, "get_problems", in, &out, true); err != nil {
		return nil, err
	}
	problems := make([]domain.Problem, 0, len(out))
	for _, p := range out {
		problems = append(problems, p.ToDomain())
	}
	return problems, nil
}

func (c *Client) CreateMatch(ctx context.Context, p domain.Player, problemIDs []string) (*domain.Match, error) {
	in := dueldto.CreateMatchParams{PlayerID: p.ID, PlayerName: p.Name, Rating: p.Rating, ProblemIDs: problemIDs}
	return c.matchCall(ctx, "create_match", in, false)
}

func (c *Client) JoinMatch(ctx context.Context, matchID string, p domain.Player) (*domain.Match, error) {
	in := dueldto.JoinMatchParams{MatchID: matchID, PlayerID: p.ID, PlayerName: p.Name, Rating: p.Rating}
	return c.matchCall(ctx, "join_match", in, false)
}

func (c *Client) CancelMatch(ctx context.Context, matchID, playerID string) error {
	var out dueldto.StatusResponse
	return c.call(ctx, "cancel_match", dueldto.MatchPlayerParams{MatchID: matchID, PlayerID: playerID}, &out, false)
}

func (c *Client) ConvertToBot(ctx context.Context, matchID, botID, botName string, botRating int) (*domain.Match, error) {
	in := dueldto.ConvertToBotParams{MatchID: matchID, BotID: botID, BotName: botName, BotRating: botRating}
	return c.matchCall(ctx, "convert_to_bot", in, false)
}

func (c *Client) SubmitMove(ctx context.Context, matchID, playerID string, correct bool, index int) (*domain.MoveAck, error) {
	in := dueldto.SubmitMoveParams{MatchID: matchID, PlayerID: playerID, IsCorrect: correct, QuestionIndex: index}
	var out dueldto.MoveAck
	if err := c.call(ctx, "submit_pvp_move", in, &out, false); err != nil {
		return nil, err
	}
	return out.ToDomain(), nil
}

func (c *Client) FinishMatch(ctx context.Context, matchID, playerID string) (*domain.Match, error) {
	return c.matchCall(ctx, "finish_duel", dueldto.MatchPlayerParams{MatchID: matchID, PlayerID: playerID}, false)
}

func (c *Client) SurrenderMatch(ctx context.Context, matchID, playerID string) (*domain.Match, error) {
	return c.matchCall(ctx, "surrender_duel", dueldto.MatchPlayerParams{MatchID: matchID, PlayerID: playerID}, false)
}

func (c *Client) ClaimTimeoutWin(ctx context.Context, matchID, claimantID string) (*domain.Match, error) {
	return c.matchCall(ctx, "claim_timeout_win", dueldto.MatchPlayerParams{MatchID: matchID, PlayerID: claimantID}, false)
}

func (c *Client) Heartbeat(ctx context.Context, matchID, playerID string) error {
	var out dueldto.StatusResponse
	return c.call(ctx, "heartbeat", dueldto.MatchPlayerParams{MatchID: matchID, PlayerID: playerID}, &out, true)
}

func (c *Client) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	return c.matchCall(ctx, "get_match", dueldto.GetMatchParams{MatchID: matchID}, true)
}

// MatchesByPlayer lists the player's recent matches, newest first.
func (c *Client) MatchesByPlayer(ctx context.Context, playerID string) ([]*domain.Match, error) {
	var out []dueldto.Match
	if err := c.call(ctx, "get_my_matches", dueldto.PlayerMatchesParams{PlayerID: playerID}, &out, true); err != nil {
		return nil, err
	}
	ms := make([]*domain.Match, 0, len(out))
	for i := range out {
		ms = append(ms, out[i].ToDomain())
	}
	return ms, nil
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	var out []dueldto.LeaderboardEntry
	if err := c.call(ctx, "get_leaderboard", dueldto.LeaderboardParams{Limit: limit}, &out, true); err != nil {
		return nil, err
	}
	entries := make([]domain.LeaderboardEntry, 0, len(out))
	for _, e := range out {
		entries = append(entries, domain.LeaderboardEntry{Rank: e.Rank, PlayerID: e.PlayerID, Name: e.Name, Rating: e.Rating})
	}
	return entries, nil
}

func (c *Client) Profile(ctx context.Context, playerID string) (*domain.Profile, error) {
	var out dueldto.Profile
	if err := c.call(ctx, "get_profile", dueldto.ProfileParams{PlayerID: playerID}, &out, true); err != nil {
		return nil, err
	}
	return out.ToDomain(), nil
}

func (c *Client) CreateTournament(ctx context.Context, name string, participants []string) (*dueldto.Tournament, error) {
	var out dueldto.Tournament
	in := dueldto.CreateTournamentParams{Name: strings.TrimSpace(name), Participants: participants}
	if err := c.call(ctx, "create_tournament", in, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTournament(ctx context.Context, id string) (*dueldto.Tournament, error) {
	var out dueldto.Tournament
	if err := c.call(ctx, "get_tournament", dueldto.GetTournamentParams{TournamentID: id}, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the authority's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, "GET", "/healthz", nil, nil, true)
}

func (c *Client) matchCall(ctx context.Context, procedure string, in any, retry bool) (*domain.Match, error) {
	var out dueldto.Match
	if err := c.call(ctx, procedure, in, &out, retry); err != nil {
		return nil, err
	}
	return out.ToDomain(), nil
}
