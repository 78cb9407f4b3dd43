package dueldto

import "time"

// Match is the row shape the authority stores and pushes on the realtime feed.
type Match struct {
	ID           string   `json:"id"`
	Mode         string   `json:"mode"`
	Status       string   `json:"status"`
	ProblemIDs   []string `json:"problem_ids"`
	TournamentID string   `json:"tournament_id,omitempty"`

	Player1ID       string    `json:"player1_id"`
	Player1Name     string    `json:"player1_name"`
	Player1Rating   int       `json:"player1_rating"`
	Player1Score    int       `json:"player1_score"`
	Player1Progress int       `json:"player1_progress"`
	Player1LastSeen time.Time `json:"player1_last_seen"`

	Player2ID       string    `json:"player2_id,omitempty"`
	Player2Name     string    `json:"player2_name,omitempty"`
	Player2Rating   int       `json:"player2_rating,omitempty"`
	Player2Score    int       `json:"player2_score"`
	Player2Progress int       `json:"player2_progress"`
	Player2LastSeen time.Time `json:"player2_last_seen"`

	WinnerID     string `json:"winner_id,omitempty"`
	EndReason    string `json:"end_reason,omitempty"`
	Player1Delta int    `json:"player1_delta,omitempty"`
	Player2Delta int    `json:"player2_delta,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Problem struct {
	ID         string `json:"id"`
	Topic      string `json:"topic"`
	Difficulty int    `json:"difficulty"`
	Prompt     string `json:"prompt"`
	Answer     string `json:"answer"`
}

type MoveAck struct {
	MatchID   string `json:"match_id"`
	PlayerID  string `json:"player_id"`
	Score     int    `json:"score"`
	Progress  int    `json:"progress"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	Version   int64  `json:"version"`
}

type Profile struct {
	PlayerID      string    `json:"player_id"`
	Name          string    `json:"name"`
	Rating        int       `json:"rating"`
	MatchesPlayed int       `json:"matches_played"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Draws         int       `json:"draws"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Rating   int    `json:"rating"`
}

// FeedEvent is one realtime frame for a subscribed match.
type FeedEvent struct {
	Type  string `json:"type"`
	Match *Match `json:"match,omitempty"`
}
