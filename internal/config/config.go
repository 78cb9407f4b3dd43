package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	DataAPIURL  string
	RealtimeURL string
	DataAPIKey  string

	PlayerID     string
	PlayerName   string
	PlayerRating int

	RedisURL           string
	DatabaseURL        string
	CatalogDatabaseURL string

	ListenAddr     string
	AllowedOrigins []string

	MatchSize           int
	TournamentMatchSize int
	QuestionTicks       int
	FeedbackDelay       time.Duration
	BotFallbackAfter    time.Duration
	HeartbeatInterval   time.Duration
	StaleAfter          time.Duration
	MatchmakingRange    int
	BotWinPolicy        string

	MessagesDir string
}

// Load reads the environment. Malformed optional values keep their defaults;
// use ValidateClient or ValidateAuthority for the per-binary requirements.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		PlayerRating:        1000,
		ListenAddr:          ":8080",
		MatchSize:           10,
		TournamentMatchSize: 5,
		QuestionTicks:       60,
		FeedbackDelay:       time.Second,
		BotFallbackAfter:    7 * time.Second,
		HeartbeatInterval:   5 * time.Second,
		StaleAfter:          120 * time.Second,
		MatchmakingRange:    200,
		BotWinPolicy:        "await",
	}

	cfg.DataAPIURL = strings.TrimRight(strings.TrimSpace(os.Getenv("DATA_API_URL")), "/")
	cfg.RealtimeURL = strings.TrimSpace(os.Getenv("REALTIME_URL"))
	cfg.DataAPIKey = strings.TrimSpace(os.Getenv("DATA_API_KEY"))

	cfg.PlayerID = strings.TrimSpace(os.Getenv("PLAYER_ID"))
	cfg.PlayerName = strings.TrimSpace(os.Getenv("PLAYER_NAME"))
	if cfg.PlayerName == "" {
		cfg.PlayerName = cfg.PlayerID
	}
	positiveInt("PLAYER_RATING", &cfg.PlayerRating)

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.CatalogDatabaseURL = strings.TrimSpace(os.Getenv("CATALOG_DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	positiveInt("MATCH_SIZE", &cfg.MatchSize)
	positiveInt("TOURNAMENT_MATCH_SIZE", &cfg.TournamentMatchSize)
	positiveInt("QUESTION_TICKS", &cfg.QuestionTicks)
	positiveInt("MATCHMAKING_RANGE", &cfg.MatchmakingRange)
	duration("FEEDBACK_DELAY", &cfg.FeedbackDelay)
	duration("BOT_FALLBACK_AFTER", &cfg.BotFallbackAfter)
	duration("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	duration("STALE_AFTER", &cfg.StaleAfter)

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("BOT_WIN_POLICY"))); v != "" {
		if v != "await" && v != "optimistic" {
			return nil, errors.New("BOT_WIN_POLICY must be await or optimistic")
		}
		cfg.BotWinPolicy = v
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	return cfg, nil
}

// ValidateClient checks what the terminal client needs.
func (c *AppConfig) ValidateClient() error {
	if c.DataAPIURL == "" {
		return errors.New("DATA_API_URL is required")
	}
	if c.PlayerID == "" {
		return errors.New("PLAYER_ID is required")
	}
	return nil
}

// ValidateAuthority checks what the authority server needs.
func (c *AppConfig) ValidateAuthority() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	return nil
}

func positiveInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// duration accepts Go durations ("1500ms") or whole seconds ("7").
func duration(key string, dst *time.Duration) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = time.Duration(n) * time.Second
	}
}
