package dueldto

// Named parameters of each RPC procedure. Responses are the records above.

type FindOpenMatchParams struct {
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
	Range    int    `json:"range"`
}

type CreateMatchParams struct {
	PlayerID   string   `json:"player_id"`
	PlayerName string   `json:"player_name"`
	Rating     int      `json:"rating"`
	ProblemIDs []string `json:"problem_ids,omitempty"`
	Size       int      `json:"size,omitempty"`
}

type JoinMatchParams struct {
	MatchID    string `json:"match_id"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Rating     int    `json:"rating"`
}

// MatchPlayerParams serves cancel_match, finish_duel, surrender_duel,
// claim_timeout_win and heartbeat.
type MatchPlayerParams struct {
	MatchID  string `json:"match_id"`
	PlayerID string `json:"player_id"`
}

type ConvertToBotParams struct {
	MatchID   string `json:"match_id"`
	BotID     string `json:"bot_id"`
	BotName   string `json:"bot_name"`
	BotRating int    `json:"bot_rating"`
}

// GetProblemsParams fetches IDs when set, otherwise samples Count problems.
type GetProblemsParams struct {
	IDs   []string `json:"ids,omitempty"`
	Count int      `json:"count,omitempty"`
}

type SubmitMoveParams struct {
	MatchID       string `json:"match_id"`
	PlayerID      string `json:"player_id"`
	IsCorrect     bool   `json:"is_correct"`
	QuestionIndex int    `json:"question_index"`
}

type GetMatchParams struct {
	MatchID string `json:"match_id"`
}

// PlayerMatchesParams lists a player's recent matches, newest first.
type PlayerMatchesParams struct {
	PlayerID string `json:"player_id"`
}

type LeaderboardParams struct {
	Limit int `json:"limit"`
}

type ProfileParams struct {
	PlayerID string `json:"player_id"`
}

type CreateTournamentParams struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type GetTournamentParams struct {
	TournamentID string `json:"tournament_id"`
}

// StatusResponse is returned by procedures with no record to report.
type StatusResponse struct {
	OK bool `json:"ok"`
}
