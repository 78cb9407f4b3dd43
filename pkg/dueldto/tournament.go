package dueldto

type TournamentPairing struct {
	Round   int    `json:"round"`
	Slot    int    `json:"slot"`
	Player1 string `json:"player1,omitempty"`
	Player2 string `json:"player2,omitempty"`
	MatchID string `json:"match_id,omitempty"`
	Winner  string `json:"winner,omitempty"`
}

type Tournament struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Participants []string            `json:"participants"`
	Rounds       int                 `json:"rounds"`
	Round        int                 `json:"round"`
	Pairings     []TournamentPairing `json:"pairings"`
	Champion     string              `json:"champion,omitempty"`
}
