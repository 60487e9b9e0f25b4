package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/config"
	"duel-quiz-service/internal/infra/authapi"
	"duel-quiz-service/internal/infra/memory"
	pgbank "duel-quiz-service/internal/infra/postgres"
	redisqueue "duel-quiz-service/internal/infra/redis"
	transport "duel-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz battle server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	// The queue can live in Redis so waiting players survive a restart and
	// multiple pollers can share it; game state always stays in-process.
	var queue app.Matchmaker = memory.NewQueue()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		queue = redisqueue.NewQueue(client)
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// Question bank preference: profile service over HTTP, then Postgres.
	// With neither, only random (generated) matches are playable.
	var bank app.BankLoader
	var reporter app.ResultsReporter
	if cfg.Auth.URL != "" {
		client := authapi.NewClient(cfg.Auth.URL)
		bank = client
		reporter = client
	} else if pool != nil {
		bank = pgbank.NewQuestionLoader(pool)
	}

	questionTTL := config.TTLDuration(cfg.Game.QuestionTTL, 10*time.Minute)
	drawer := app.NewQuestionDrawer(bank, questionTTL)

	games := app.NewGameService(reporter)
	presence := app.NewPresence()
	match := app.NewMatchService(queue, drawer, games, presence, cfg.Game.QuestionCount)

	wsHandler := transport.NewWSHandler(match, games)
	restHandler := transport.NewRESTHandler(match, games, presence, wsHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	restHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runSweeper(sweepCtx, match, config.TTLDuration(cfg.Game.SweepEvery, 10*time.Second))

	go func() {
		log.Printf("starting duel quiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runSweeper periodically evicts stale queue entries, idle presence records
// and finished games past retention.
func runSweeper(ctx context.Context, match *app.MatchService, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			match.Sweep(ctx, now)
		case <-ctx.Done():
			return
		}
	}
}
