package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"skillquiz-service/internal/analytics"
	"skillquiz-service/internal/app"
	"skillquiz-service/internal/certificate"
	"skillquiz-service/internal/config"
	"skillquiz-service/internal/domain"
	amqppub "skillquiz-service/internal/infra/amqp"
	"skillquiz-service/internal/infra/memory"
	"skillquiz-service/internal/infra/postgres"
	redisinfra "skillquiz-service/internal/infra/redis"
	"skillquiz-service/internal/logger"
	"skillquiz-service/internal/metrics"
	transport "skillquiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
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
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 30*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	loader, err := questionLoader(cfg, pool)
	if err != nil {
		return err
	}

	questionTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var bank app.QuestionBank
	if redisClient != nil {
		bank = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		bank = memory.NewQuestionRepository(loader, questionTTL)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	renderer, err := certificate.NewRenderer(cfg.Certificate.FontPath)
	if err != nil {
		return err
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithCertificates(renderer),
		app.WithQuestionCount(cfg.QuestionCount()),
		app.WithTiming(
			config.TTLDuration(cfg.Quiz.Duration, config.DefaultQuizDuration),
			config.TTLDuration(cfg.Quiz.Tick, config.DefaultTick),
			config.TTLDuration(cfg.Quiz.AnalyticsTimeout, config.DefaultAnalyticsTimeout),
		),
	}
	if cfg.Analytics.Enabled {
		opts = append(opts, app.WithAnalytics(analytics.NewTracker()))
	}
	if cfg.Postgres.URL != "" {
		db := newBunDB(cfg.Postgres.URL)
		defer db.Close()
		opts = append(opts, app.WithResultStore(postgres.NewResultStore(db)))
	} else {
		opts = append(opts, app.WithResultStore(memory.NewResultStore()))
	}
	if cfg.AMQP.URL != "" {
		exchange := cfg.AMQP.Exchange
		if exchange == "" {
			exchange = "quiz.events"
		}
		publisher, err := amqppub.NewPublisher(cfg.AMQP.URL, exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, app.WithPublisher(publisher))
	}

	service := app.NewQuizService(store, bank, opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", transport.NewWSHandler(service, log).ServeWS)
	mux.Handle("/certificate", transport.NewCertificateHandler(service, log))
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz service", "port", finalPort,
			"redis", redisClient != nil, "postgres", pool != nil,
			"analytics", cfg.Analytics.Enabled, "amqp", cfg.AMQP.URL != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// questionLoader picks the question source: Postgres, then a YAML bank file, then the built-in sample.
func questionLoader(cfg config.Config, pool *pgxpool.Pool) (memory.QuestionLoader, error) {
	if pool != nil {
		return postgres.NewQuestionLoader(pool), nil
	}
	if cfg.Quiz.BankPath != "" {
		return memory.LoadQuestionBankFile(cfg.Quiz.BankPath)
	}
	return memory.NewStaticQuestionLoader(sampleQuestions()), nil
}

// sampleQuestions keeps the server usable without a bank file or database.
func sampleQuestions() map[string][]domain.Question {
	return map[string][]domain.Question{
		"go": {
			{Prompt: "What is the zero value of an int?", Options: []string{"0", "nil", "undefined"}, CorrectIndex: 0, Category: "types"},
			{Prompt: "Which keyword starts a goroutine?", Options: []string{"async", "go", "spawn"}, CorrectIndex: 1, Category: "concurrency"},
			{Prompt: "How are exported identifiers marked?", Options: []string{"export keyword", "Capitalized first letter", "pub"}, CorrectIndex: 1, Category: "syntax"},
		},
	}
}
