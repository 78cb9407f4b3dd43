package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	appcfg "github.com/park285/mathlab-pvp/internal/config"
	"github.com/park285/mathlab-pvp/internal/remote"
	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

func main() {
	_ = godotenv.Load()

	matchID := flag.String("match", "", "match id to watch on the realtime feed")
	watch := flag.Duration("watch", 10*time.Second, "how long to observe the feed")
	flag.Parse()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.DataAPIURL == "" {
		log.Fatal("DATA_API_URL is required")
	}

	opts := []remote.Option{remote.WithAPIKey(cfg.DataAPIKey), remote.WithTimeout(8 * time.Second)}
	if cfg.RealtimeURL != "" {
		opts = append(opts, remote.WithRealtimeURL(cfg.RealtimeURL))
	}
	client := remote.NewClient(cfg.DataAPIURL, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Println("/healthz ok")
	}
	if board, err := client.Leaderboard(ctx, 3); err != nil {
		log.Printf("leaderboard error: %v", err)
	} else {
		log.Printf("leaderboard ok: %d entries", len(board))
	}

	if *matchID == "" {
		log.Println("-match not set; skipping feed check")
		return
	}

	feed := remote.NewFeed(client.MatchFeedURL(*matchID), 5, time.Second)
	feed.SetHeaderProvider(func() map[string]string {
		return map[string]string{"apikey": cfg.DataAPIKey}
	})
	feed.OnStateChange(func(state remote.FeedState) {
		log.Printf("feed state: %s", state)
	})
	feed.OnEvent(func(ev dueldto.FeedEvent) {
		if ev.Match == nil {
			fmt.Printf("feed %s (empty)\n", ev.Type)
			return
		}
		m := ev.Match
		fmt.Printf("feed %s id=%s status=%s v=%d p1=%d/%d p2=%d/%d\n",
			ev.Type, m.ID, m.Status, m.Version, m.Player1Score, m.Player1Progress, m.Player2Score, m.Player2Progress)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := feed.Connect(cctx); err != nil {
		log.Printf("feed connect error: %v", err)
		return
	}

	t := time.NewTimer(*watch)
	<-t.C

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer closeCancel()
	_ = feed.Close(closeCtx)
}
