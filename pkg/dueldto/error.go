package dueldto

// Error codes carried in RPC failure bodies.
const (
	CodeNotFound       = "match_not_found"
	CodeFinished       = "match_finished"
	CodeFull           = "match_full"
	CodeSelfJoin       = "self_join"
	CodeNotParticipant = "not_participant"
	CodeInvalidState   = "invalid_state"
	CodeInvalidMove    = "invalid_move"
	CodeOpponentAlive  = "opponent_alive"
	CodeInvalidArgs    = "invalid_arguments"
	CodeUnknownProc    = "unknown_procedure"
	CodeUnauthorized   = "unauthorized"
	CodeInternal       = "internal"
)

// Error is the body of every non-2xx RPC response.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "duel authority error"
}
