package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/catalog"
	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/tournament"
	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

const maxBody = 64 << 10

type procedure func(s *Server, ctx context.Context, raw []byte) (any, error)

// bind decodes the named parameters of one procedure.
func bind[P any](fn func(s *Server, ctx context.Context, p P) (any, error)) procedure {
	return func(s *Server, ctx context.Context, raw []byte) (any, error) {
		var p P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("decode params: %w", domain.ErrInvalidArgs)
			}
		}
		return fn(s, ctx, p)
	}
}

var procedures = map[string]procedure{
	"find_open_match":   bind((*Server).findOpenMatch),
	"create_match":      bind((*Server).createMatch),
	"join_match":        bind((*Server).joinMatch),
	"cancel_match":      bind((*Server).cancelMatch),
	"convert_to_bot":    bind((*Server).convertToBot),
	"get_problems":      bind((*Server).getProblems),
	"submit_pvp_move":   bind((*Server).submitMove),
	"finish_duel":       bind((*Server).finishDuel),
	"surrender_duel":    bind((*Server).surrenderDuel),
	"claim_timeout_win": bind((*Server).claimTimeoutWin),
	"heartbeat":         bind((*Server).heartbeat),
	"get_match":         bind((*Server).getMatch),
	"get_my_matches":    bind((*Server).getMyMatches),
	"get_leaderboard":   bind((*Server).getLeaderboard),
	"get_profile":       bind((*Server).getProfile),
	"create_tournament": bind((*Server).createTournament),
	"get_tournament":    bind((*Server).getTournament),
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "procedure")
	proc, ok := procedures[name]
	if !ok {
		writeError(w, http.StatusNotFound, dueldto.Error{Code: dueldto.CodeUnknownProc, Message: "unknown procedure " + name})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, dueldto.Error{Code: dueldto.CodeInvalidArgs, Message: "unreadable body"})
		return
	}
	out, err := proc(s, r.Context(), raw)
	if err != nil {
		status, body := errorResponse(err)
		if status >= 500 {
			s.logger.Error("rpc_error", zap.String("procedure", name), zap.Error(err))
		} else {
			s.logger.Debug("rpc_rejected", zap.String("procedure", name), zap.String("code", body.Code), zap.Error(err))
		}
		writeError(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) findOpenMatch(ctx context.Context, p dueldto.FindOpenMatchParams) (any, error) {
	m, err := s.backend.FindOpenMatch(ctx, domain.Player{ID: p.PlayerID, Rating: p.Rating}, p.Range)
	if err != nil {
		return nil, err
	}
	return dueldto.FromMatch(m), nil
}

func (s *Server) createMatch(ctx context.Context, p dueldto.CreateMatchParams) (any, error) {
	ids := p.ProblemIDs
	if len(ids) == 0 {
		n := p.Size
		if n <= 0 {
			n = s.cfg.MatchSize
		}
		problems, err := s.backend.SampleProblems(ctx, n)
		if err != nil {
			return nil, err
		}
		for _, pr := range problems {
			ids = append(ids, pr.ID)
		}
	}
	m, err := s.backend.CreateMatch(ctx, domain.Player{ID: p.PlayerID, Name: p.PlayerName, Rating: p.Rating}, ids)
	if err != nil {
		return nil, err
	}
	return dueldto.FromMatch(m), nil
}

func (s *Server) joinMatch(ctx context.Context, p dueldto.JoinMatchParams) (any, error) {
	m, err := s.backend.JoinMatch(ctx, p.MatchID, domain.Player{ID: p.PlayerID, Name: p.PlayerName, Rating: p.Rating})
	if err != nil {
		return nil, err
	}
	return dueldto.FromMatch(m), nil
}

func (s *Server) cancelMatch(ctx context.Context, p dueldto.MatchPlayerParams) (any, error) {
	if err := s.backend.CancelMatch(ctx, p.MatchID, p.PlayerID); err != nil {
		return nil, err
	}
	return dueldto.StatusResponse{OK: true}, nil
}

func (s *Server) convertToBot(ctx context.Context, p dueldto.ConvertToBotParams) (any, error) {
	m, err := s.backend.ConvertToBot(ctx, p.MatchID, p.BotID, p.BotName, p.BotRating)
	if err != nil {
		return nil, err
	}
	return dueldto.FromMatch(m), nil
}

func (s *Server) getProblems(ctx context.Context, p dueldto.GetProblemsParams) (any, error) {
	var (
		problems []domain.Problem
		err      error
	)
	if len(p.IDs) > 0 {
		problems, err = s.backend.FetchProblems(ctx, p.IDs)
	} else {
		problems, err = s.backend.SampleProblems(ctx, p.Count)
	}
	if err != nil {
		return nil, err
	}
	out := make([]dueldto.Problem, 0, len(problems))
	for _, pr := range problems {
		out = append(out, dueldto.FromProblem(pr))
	}
	return out, nil
}

func (s *Server) submitMove(ctx context.Context, p dueldto.SubmitMoveParams) (any, error) {
	ack, err := s.backend.SubmitMove(ctx, p.MatchID, p.PlayerID, p.IsCorrect, p.QuestionIndex)
	if err != nil {
		return nil, err
	}
	return dueldto.FromMoveAck(ack), nil
}

func (s *Server) finishDuel(ctx context.Context, p dueldto.MatchPlayerParams) (any, error) {
	m, err := s.backend.FinishMatch(ctx, p.MatchID, p.PlayerID)
	if err != nil {
		return nil, err
	}
	return dueldto.FromMatch(m), nil
}

func (s *Server) surrenderDuel(ctx context.Context, p dueldto.MatchPlayerParams) (any, error) {
	m, err := s.backend.SurrenderMatch(ctx, p.MatchID, p.PlayerID)
	if err != nil {
		return nil, err
	}
	return dueldto.FromMatch(m), nil
}

func (s *Server) claimTimeoutWin(ctx context.Context, p dueldto.MatchPlayerParams) (any, error) {
	m, err := s.backend.ClaimTimeoutWin(ctx, p.MatchID, p.PlayerID)
	if err != nil {
		return nil, err
	}
	return dueldto.FromMatch(m), nil
}

func (s *Server) heartbeat(ctx context.Context, p dueldto.MatchPlayerParams) (any, error) {
	if err := s.backend.Heartbeat(ctx, p.MatchID, p.PlayerID); err != nil {
		return nil, err
	}
	return dueldto.StatusResponse{OK: true}, nil
}

func (s *Server) getMatch(ctx context.Context, p dueldto.GetMatchParams) (any, error) {
	m, err := s.backend.GetMatch(ctx, p.MatchID)
	if err != nil {
		return nil, err
	}
	return dueldto.FromMatch(m), nil
}

func (s *Server) getMyMatches(ctx context.Context, p dueldto.PlayerMatchesParams) (any, error) {
	if strings.TrimSpace(p.PlayerID) == "" {
		return nil, domain.ErrInvalidArgs
	}
	ms, err := s.backend.MatchesByPlayer(ctx, p.PlayerID)
	if err != nil {
		return nil, err
	}
	out := make([]*dueldto.Match, 0, len(ms))
	for _, m := range ms {
		out = append(out, dueldto.FromMatch(m))
	}
	return out, nil
}

func (s *Server) getLeaderboard(ctx context.Context, p dueldto.LeaderboardParams) (any, error) {
	entries, err := s.backend.Leaderboard(ctx, p.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]dueldto.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, dueldto.LeaderboardEntry{Rank: e.Rank, PlayerID: e.PlayerID, Name: e.Name, Rating: e.Rating})
	}
	return out, nil
}

func (s *Server) getProfile(ctx context.Context, p dueldto.ProfileParams) (any, error) {
	prof, err := s.backend.Profile(ctx, p.PlayerID)
	if err != nil {
		return nil, err
	}
	return dueldto.FromProfile(prof), nil
}

var errNoTournaments = errors.New("tournaments are not enabled")

func (s *Server) createTournament(ctx context.Context, p dueldto.CreateTournamentParams) (any, error) {
	if s.tournaments == nil {
		return nil, errNoTournaments
	}
	b, err := s.tournaments.Create(ctx, p.Name, p.Participants)
	if err != nil {
		return nil, err
	}
	return tournamentDTO(b), nil
}

func (s *Server) getTournament(ctx context.Context, p dueldto.GetTournamentParams) (any, error) {
	if s.tournaments == nil {
		return nil, errNoTournaments
	}
	b, err := s.tournaments.Get(ctx, p.TournamentID)
	if err != nil {
		return nil, err
	}
	return tournamentDTO(b), nil
}

func tournamentDTO(b *tournament.Bracket) *dueldto.Tournament {
	out := &dueldto.Tournament{
		ID:           b.ID,
		Name:         b.Name,
		Participants: append([]string(nil), b.Participants...),
		Rounds:       b.Rounds,
		Round:        b.Round,
		Champion:     b.Champion,
	}
	for _, p := range b.Pairings {
		out.Pairings = append(out.Pairings, dueldto.TournamentPairing{
			Round: p.Round, Slot: p.Slot, Player1: p.Player1, Player2: p.Player2, MatchID: p.MatchID, Winner: p.Winner,
		})
	}
	return out
}

// errorResponse maps failures to a status and wire error. Errors outside the
// shared domain set are folded into the closest code.
func errorResponse(err error) (int, dueldto.Error) {
	switch {
	case errors.Is(err, errNoTournaments):
		return http.StatusNotFound, dueldto.Error{Code: dueldto.CodeUnknownProc, Message: err.Error()}
	case errors.Is(err, tournament.ErrNotFound):
		return http.StatusNotFound, dueldto.Error{Code: dueldto.CodeNotFound, Message: err.Error()}
	case errors.Is(err, catalog.ErrUnknownProblem), errors.Is(err, catalog.ErrNotEnough),
		errors.Is(err, tournament.ErrTooFewPlayers), errors.Is(err, tournament.ErrDuplicatePlayer):
		return http.StatusBadRequest, dueldto.Error{Code: dueldto.CodeInvalidArgs, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, dueldto.Error{Code: dueldto.CodeInternal, Message: "request timed out", Retryable: true}
	}
	body := dueldto.ErrorFor(err)
	return statusFor(body.Code), body
}

func statusFor(code string) int {
	switch code {
	case dueldto.CodeNotFound:
		return http.StatusNotFound
	case dueldto.CodeFinished, dueldto.CodeFull, dueldto.CodeSelfJoin, dueldto.CodeInvalidState, dueldto.CodeOpponentAlive:
		return http.StatusConflict
	case dueldto.CodeNotParticipant:
		return http.StatusForbidden
	case dueldto.CodeInvalidMove, dueldto.CodeInvalidArgs:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, e dueldto.Error) {
	writeJSON(w, status, e)
}
