package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	appcfg "github.com/park285/mathlab-pvp/internal/config"
	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/match"
	"github.com/park285/mathlab-pvp/internal/msgcat"
	"github.com/park285/mathlab-pvp/internal/obslog"
	"github.com/park285/mathlab-pvp/internal/presenter"
	"github.com/park285/mathlab-pvp/internal/remote"
)

var errLineTooLong = fmt.Errorf("input line longer than %d bytes ignored", maxLineBytes)

type app struct {
	cfg     *appcfg.AppConfig
	client  *remote.Client
	tracker *match.Tracker
	out     *presenter.Presenter
	f       *presenter.Formatter
	player  domain.Player
	build   func() *match.Tracker
}

func main() {
	_ = godotenv.Load()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages error: %v", err)
	}
	f := presenter.NewFormatter(cat)
	out := presenter.NewPresenter(os.Stdout, f)

	opts := []remote.Option{remote.WithAPIKey(cfg.DataAPIKey), remote.WithLogger(logger)}
	if cfg.RealtimeURL != "" {
		opts = append(opts, remote.WithRealtimeURL(cfg.RealtimeURL))
	}
	client := remote.NewClient(cfg.DataAPIURL, opts...)

	a := &app{cfg: cfg, client: client, out: out, f: f}
	a.player = domain.Player{ID: cfg.PlayerID, Name: cfg.PlayerName, Rating: a.startRating()}

	policy, _ := match.ParseFinishPolicy(cfg.BotWinPolicy)
	tm := match.DefaultTimings()
	tm.QuestionTicks = cfg.QuestionTicks
	tm.FeedbackDelay = cfg.FeedbackDelay
	tm.BotFallbackAfter = cfg.BotFallbackAfter
	tm.HeartbeatInterval = cfg.HeartbeatInterval
	tm.StaleAfter = cfg.StaleAfter

	a.build = func() *match.Tracker {
		t := match.NewTracker(client, a.player,
			match.WithLogger(logger),
			match.WithTimings(tm),
			match.WithMatchSize(cfg.MatchSize),
			match.WithRatingRange(cfg.MatchmakingRange),
			match.WithFinishPolicy(policy),
		)
		t.OnChange(out.Snapshot)
		return t
	}
	a.tracker = a.build()
	defer func() { a.tracker.Close() }()

	out.Say(f.Lobby())
	a.join("", false)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		err := readLines(os.Stdin, maxLineBytes,
			func(line string) { lines <- line },
			func() {
				obslog.L().Warn("input_line_too_long", zap.Int("limit", maxLineBytes))
				out.Say(f.Error(errLineTooLong))
			})
		if err != nil {
			readErr <- err
			return
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			a.leave()
			return
		case err := <-readErr:
			// the match is kept; the opponent can still claim it if we stay away
			logger.Error("input_read_error", zap.Error(err))
			return
		case line, ok := <-lines:
			if !ok {
				a.leave()
				return
			}
			if quit := a.handle(strings.TrimSpace(line)); quit {
				a.leave()
				return
			}
		}
	}
}

func (a *app) startRating() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := a.client.Profile(ctx, a.cfg.PlayerID)
	if err != nil || p == nil {
		obslog.L().Warn("profile_lookup_error", zap.String("player_id", a.cfg.PlayerID), zap.Error(err))
		return a.cfg.PlayerRating
	}
	return p.Rating
}

// handle runs one input line and reports whether the client should exit.
func (a *app) handle(line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := a.tracker.Submit(line); err != nil {
			a.out.Say(a.f.Error(err))
		}
		return false
	}

	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		a.out.Say(helpText())
	case "/find":
		a.rematch()
		a.out.Say(a.f.Searching(a.player.Rating))
		t := a.tracker
		go func() {
			err := t.FindMatch(context.Background())
			if err != nil && !errors.Is(err, match.ErrCancelled) {
				a.out.Say(a.f.Error(err))
			}
		}()
	case "/join", "/resume":
		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		a.join(id, true)
	case "/cancel":
		if err := a.tracker.Cancel(); err != nil {
			a.out.Say(a.f.Error(err))
		}
	case "/surrender":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.tracker.Surrender(ctx); err != nil {
			a.out.Say(a.f.Error(err))
		}
	case "/board":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		entries, err := a.client.Leaderboard(ctx, 10)
		if err != nil {
			a.out.Say(a.f.Error(err))
			return false
		}
		a.out.Say(a.f.Leaderboard(entries))
	case "/profile":
		id := a.player.ID
		if len(args) > 0 {
			id = args[0]
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := a.client.Profile(ctx, id)
		if err != nil {
			a.out.Say(a.f.Error(err))
			return false
		}
		a.out.Say(a.f.Profile(p))
	case "/tournament":
		a.handleTournament(args)
	default:
		a.out.Say(helpText())
	}
	return false
}

// handleTournament takes "new <name> <player>..." or a bracket id.
func (a *app) handleTournament(args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch {
	case len(args) >= 2 && strings.EqualFold(args[0], "new"):
		t, err := a.client.CreateTournament(ctx, args[1], args[2:])
		if err != nil {
			a.out.Say(a.f.Error(err))
			return
		}
		a.out.Say(t.ID)
		a.out.Say(a.f.Tournament(t))
	case len(args) == 1:
		t, err := a.client.GetTournament(ctx, args[0])
		if err != nil {
			a.out.Say(a.f.Error(err))
			return
		}
		a.out.Say(a.f.Tournament(t))
	default:
		a.out.Say(helpText())
	}
}

// join attaches to matchID, or to the player's running match when it is
// empty: a tournament pairing or a duel left by an earlier session.
func (a *app) join(matchID string, announce bool) {
	a.rematch()
	if a.tracker.Snapshot().Phase != match.PhaseLobby {
		a.out.Say(a.f.Busy())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if matchID == "" {
		ms, err := a.client.MatchesByPlayer(ctx, a.player.ID)
		if err != nil {
			obslog.L().Warn("resume_lookup_error", zap.String("player_id", a.player.ID), zap.Error(err))
			if announce {
				a.out.Say(a.f.Error(err))
			}
			return
		}
		m := match.Resumable(ms, a.player.ID)
		if m == nil {
			if announce {
				a.out.Say(a.f.NothingToResume())
			}
			return
		}
		matchID = m.ID
	}
	if err := a.tracker.Attach(ctx, matchID); err != nil {
		a.out.Say(a.f.Error(err))
	}
}

// rematch replaces a finished tracker; a finished match is never reused.
func (a *app) rematch() {
	s := a.tracker.Snapshot()
	if s.Phase != match.PhaseFinished {
		return
	}
	a.player.Rating += s.RatingDelta
	a.tracker.Close()
	a.tracker = a.build()
}

// leave gives up a running match instead of leaving the opponent waiting.
func (a *app) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch a.tracker.Snapshot().Phase {
	case match.PhaseSearching:
		_ = a.tracker.Cancel()
	case match.PhaseActive:
		_ = a.tracker.Surrender(ctx)
	}
}

func helpText() string {
	return strings.Join([]string{
		"Commands:",
		fmt.Sprintf("  %-28s %s", "/find", "look for an opponent"),
		fmt.Sprintf("  %-28s %s", "/join [match]", "rejoin a running match or tournament duel"),
		fmt.Sprintf("  %-28s %s", "/cancel", "stop looking"),
		fmt.Sprintf("  %-28s %s", "/surrender", "give up the current match"),
		fmt.Sprintf("  %-28s %s", "/board", "top rated players"),
		fmt.Sprintf("  %-28s %s", "/profile [player]", "rating and record"),
		fmt.Sprintf("  %-28s %s", "/tournament new <name> <ids>", "start a bracket"),
		fmt.Sprintf("  %-28s %s", "/tournament <id>", "show a bracket"),
		fmt.Sprintf("  %-28s %s", "/quit", "leave"),
		"Anything else is taken as an answer.",
	}, "\n")
}
