package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pellab/broadside/internal/api"
	appcfg "github.com/pellab/broadside/internal/config"
	"github.com/pellab/broadside/internal/gateway"
	"github.com/pellab/broadside/internal/lobby"
	"github.com/pellab/broadside/internal/match"
	"github.com/pellab/broadside/internal/obslog"
	"github.com/pellab/broadside/internal/replay"
	"github.com/pellab/broadside/internal/ruleset"
	"github.com/pellab/broadside/internal/session"
	"github.com/pellab/broadside/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// registryPairer lets the lobby create matches without importing the
// match package's concrete types.
type registryPairer struct {
	reg *match.Registry
}

func (p registryPairer) Pair(player1, player2 string) (string, error) {
	m, err := p.reg.Create(player1, player2)
	if err != nil {
		return "", err
	}
	return m.ID(), nil
}

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	rules, err := ruleset.Load(cfg.RulesDir)
	if err != nil {
		log.Fatalf("ruleset error: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pctx).Err(); err != nil {
		cancel()
		log.Fatalf("redis ping error: %v", err)
	}
	cancel()

	// Persistence is optional: without a database, replays and
	// results stay in memory only.
	var repo *store.Repository
	var saver replay.Saver
	var results match.ResultSink
	if cfg.DatabaseURL != "" {
		repo, err = store.NewRepository(cfg.DatabaseURL, cfg.ReplayRetention)
		if err != nil {
			log.Fatalf("store init error: %v", err)
		}
		saver = repo
		results = repo
	} else {
		obslog.L().Warn("store_disabled", zap.String("reason", "DATABASE_URL not set"))
	}

	rec := replay.NewRecorder(saver)
	sess := session.NewManager(cfg.GraceWindow)
	registry := match.NewRegistry(
		match.Config{
			Rules:       rules,
			TurnTimeout: cfg.TurnTimeout,
			FirstTurn:   cfg.FirstTurn,
		},
		sess, rec, results, cfg.RetentionWindow, cfg.MaxConcurrentMatches,
	)
	sess.SetHooks(registry)

	queue := lobby.NewManager(rdb, registryPairer{reg: registry})
	gw := gateway.NewServer(cfg.ListenAddr, sess, queue, registry)

	var apiLoader api.ReplayLoader
	if repo != nil {
		apiLoader = repo
	}
	side := api.NewServer(cfg.APIAddr, apiLoader, registry)

	errCh := make(chan error, 2)
	go func() { errCh <- gw.ListenAndServe() }()
	go func() { errCh <- side.ListenAndServe() }()

	obslog.L().Info("server_up",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("api_addr", cfg.APIAddr),
		zap.Int("board_size", rules.BoardSize),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		obslog.L().Info("server_shutdown", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			obslog.L().Error("server_error", zap.Error(err))
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = gw.Shutdown(sctx)
	scancel()
	_ = side.Shutdown()
	_ = rdb.Close()
	if repo != nil {
		_ = repo.Close()
	}
}
