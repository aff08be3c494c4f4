package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/YCLstock/finnews-bot/internal/cli"
	"github.com/YCLstock/finnews-bot/internal/clustering"
	"github.com/YCLstock/finnews-bot/internal/config"
	"github.com/YCLstock/finnews-bot/internal/db"
	"github.com/YCLstock/finnews-bot/internal/delivery"
	"github.com/YCLstock/finnews-bot/internal/logging"
	"github.com/YCLstock/finnews-bot/internal/pusher"
	"github.com/YCLstock/finnews-bot/internal/schedule"
	"github.com/YCLstock/finnews-bot/internal/scoring"
	"github.com/YCLstock/finnews-bot/internal/topics"
)

// runtime bundles everything a command needs after bootstrap.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

func (r *runtime) close() {
	if r != nil && r.pool != nil {
		_ = r.pool.Close()
	}
}

// bootstrap loads env, config and logger and connects to the database.
// Errors are printed to stderr; a nil return means the command should
// exit with code 1.
func bootstrap(envLoader *cli.EnvLoader) *runtime {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return nil
	}

	return &runtime{cfg: cfg, logger: logger, pool: pool}
}

// buildPusher wires the full push pipeline from config.
func (r *runtime) buildPusher() (*pusher.SmartPusher, error) {
	scorer, err := scoring.NewScorer(r.cfg.TagWeight, r.cfg.KeywordWeight)
	if err != nil {
		return nil, err
	}

	registry := delivery.NewRegistry()
	if err := registry.Register(delivery.NewDiscordProvider(r.cfg.ItemDelay, r.logger)); err != nil {
		return nil, err
	}
	if r.cfg.EmailConfigured() {
		email := delivery.NewEmailProvider(delivery.SMTPConfig{
			Host:     r.cfg.SMTPServer,
			Port:     r.cfg.SMTPPort,
			Username: r.cfg.SMTPUser,
			Password: r.cfg.SMTPPassword,
			From:     r.cfg.FromEmail,
		}, r.logger)
		if err := registry.Register(email); err != nil {
			return nil, err
		}
	} else {
		r.logger.Info().Msg("smtp not configured, email delivery disabled")
	}

	mapper, err := r.loadMapper(context.Background())
	if err != nil {
		return nil, err
	}

	return pusher.New(
		pusher.NewStore(r.pool),
		registry,
		r.buildClusterer(mapper),
		schedule.NewScheduler(r.cfg.WindowTolerance),
		scorer,
		r.logger,
		pusher.Options{
			WorkerPoolSize:    r.cfg.WorkerPoolSize,
			CandidateLookback: r.cfg.CandidateLookback,
			BatchTimeout:      r.cfg.BatchTimeout,
		},
	), nil
}

func (r *runtime) buildClusterer(mapper *topics.Mapper) *clustering.Clusterer {
	embedder := clustering.NewEmbedder(clustering.EmbedderConfig{
		Endpoint:       r.cfg.EmbeddingEndpoint,
		APIKey:         r.cfg.EmbeddingAPIKey,
		Model:          r.cfg.EmbeddingModel,
		Dimensions:     r.cfg.EmbeddingDimensions,
		RequestTimeout: r.cfg.EmbeddingTimeout,
	})
	return clustering.NewClusterer(embedder, mapper, clustering.Config{
		MinClusterSize:      r.cfg.MinClusterSize,
		SimilarityThreshold: r.cfg.SimilarityThreshold,
		FocusThreshold:      r.cfg.FocusThreshold,
	}, r.logger)
}

// loadMapper prefers the database vocabulary, falling back to the
// embedded one.
func (r *runtime) loadMapper(ctx context.Context) (*topics.Mapper, error) {
	rows, err := db.LoadVocabularyRows(ctx, r.pool)
	if err == nil {
		if vocab, buildErr := topics.VocabularyFromRows(rows); buildErr == nil {
			return topics.NewMapper(vocab), nil
		} else {
			err = buildErr
		}
	}
	r.logger.Warn().Err(err).Msg("database vocabulary unavailable, using builtin")

	vocab, err := topics.LoadBuiltinVocabulary()
	if err != nil {
		return nil, fmt.Errorf("load builtin vocabulary: %w", err)
	}
	return topics.NewMapper(vocab), nil
}
