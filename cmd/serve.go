package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/jobmatch/internal/ai/gemini"
	"github.com/spigell/jobmatch/internal/cache"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/matching"
	"github.com/spigell/jobmatch/internal/secrets"
	"github.com/spigell/jobmatch/internal/server"
	"github.com/spigell/jobmatch/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the jobmatch HTTP API",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "address to listen on (default :8080)")

	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

// serve is the main command for the backend.
func serve() {
	config, logger := bootstrap()

	logger.Info("starting the jobmatch server", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := newStore(ctx, config.Database, logger)
	if err != nil {
		logger.Fatal("connecting to the store", zap.Error(err))
	}
	defer st.Close()

	matchCache, err := newCache(ctx, config.Cache, logger)
	if err != nil {
		logger.Fatal("connecting to the cache", zap.Error(err))
	}
	defer matchCache.Close()

	deps := server.Deps{Store: st, Logger: logger}
	model := ""

	generator, err := newGenerator(ctx, config.AI, logger)
	if err != nil {
		logger.Warn("AI features are disabled",
			zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY_FILE or GEMINI_API_KEY, or the 'ai.gemini.api-key-file' key in the configuration file"),
		)
	} else {
		model = generator.Model()
		wireAI(&deps, generator, matchCache, config, logger)
	}

	if deps.Ranking == nil {
		deps.Ranking = prepareRanking(config.Matching, config.AI, nil, logger)
	}

	srv := server.New(server.Config{
		ChatRate:          config.Server.ChatRate,
		ChatBurst:         config.Server.ChatBurst,
		FrameRate:         config.Server.FrameRate,
		FrameBurst:        config.Server.FrameBurst,
		MaxBodyBytes:      config.Server.MaxBodyBytes,
		MaxUploadBytes:    config.Server.MaxUploadBytes,
		ShutdownTimeout:   config.Server.ShutdownTimeout,
		TrustForwardedFor: config.Server.TrustForwardedFor,
		Model:             model,
	}, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, config.Server.Listen)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.NamedError("reason", context.Cause(gctx)))
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("exiting")
}

func wireAI(deps *server.Deps, generator *gemini.Generator, matchCache cache.Cache, config *Config, log *zap.Logger) {
	aiLog := logger.WithCommonFields(log, "gemini", generator.Model())
	maxLog := config.AI.Gemini.MaxLogLength

	minScore := config.AI.MinimumFitScore
	if minScore < 0 {
		minScore = 0
	}

	matcher := gemini.NewMatcher(generator, minScore, maxLog, aiLog.With(zap.Float64("minimum_fit_score", minScore)))
	analyzer := gemini.NewAnalyzer(generator, generator, maxLog, aiLog)

	deps.Scorer = matching.NewScorer(matcher, matchCache, log)
	deps.Ranking = prepareRanking(config.Matching, config.AI, deps.Scorer, log)
	deps.CV = analyzer
	deps.Behavior = analyzer
	deps.Footprint = analyzer
	deps.Interviewer = gemini.NewInterviewer(generator, generator, aiLog)
}

func newGenerator(ctx context.Context, cfg *AIConfig, log *zap.Logger) (*gemini.Generator, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}

	genLogger := logger.WithCommonFields(log, "gemini", cfg.Gemini.Model).With(
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	return gemini.NewGenerator(ctx, gemini.Config{
		APIKey:        apiKey,
		Model:         cfg.Gemini.Model,
		VisionModel:   cfg.Gemini.VisionModel,
		MaxRetries:    cfg.Gemini.MaxRetries,
		MaxQuotaDelay: cfg.Gemini.MaxQuotaDelay,
	}, genLogger)
}

// newStore connects to Postgres when a database url is configured and falls back to memory otherwise.
func newStore(ctx context.Context, cfg *DatabaseConfig, log *zap.Logger) (store.Store, error) {
	dsn, err := secrets.LoadOptional(secrets.Source{
		Name:  "database url",
		Value: cfg.URL,
		File:  cfg.URLFile,
	})
	if err != nil {
		return nil, err
	}

	if dsn == "" {
		log.Warn("no database configured; using the in-memory store",
			zap.String("hint", "set DATABASE_URL or the 'database.url' key in the configuration file"),
		)
		mem, err := newMemoryStore(cfg.SeedFile, log)
		if err != nil {
			return nil, err
		}
		return mem, nil
	}

	if cfg.SeedFile != "" {
		log.Warn("seed file is only loaded into the in-memory store; ignoring it", zap.String("seed_file", cfg.SeedFile))
	}

	pg, err := store.NewPostgres(ctx, dsn, cfg.MaxConns, log)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func newMemoryStore(seedFile string, log *zap.Logger) (*store.Memory, error) {
	mem := store.NewMemory()
	if seedFile == "" {
		return mem, nil
	}

	seed, err := store.LoadSeed(seedFile)
	if err != nil {
		return nil, err
	}
	if err := mem.Load(seed); err != nil {
		return nil, fmt.Errorf("seed in-memory store: %w", err)
	}

	log.Info("in-memory store seeded",
		zap.String("seed_file", seedFile),
		zap.Int("seekers", len(seed.Seekers)),
		zap.Int("jobs", len(seed.Jobs)),
		zap.Int("applications", len(seed.Applications)),
	)
	return mem, nil
}

// newCache connects to Redis when an address is configured and falls back to memory otherwise.
func newCache(ctx context.Context, cfg *CacheConfig, log *zap.Logger) (cache.Cache, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		log.Info("no redis configured; caching match scores in memory", zap.Duration("ttl", cfg.TTL))
		return cache.NewMemory(cfg.TTL), nil
	}

	password, err := secrets.LoadOptional(secrets.Source{
		Name:  "redis password",
		Value: cfg.Password,
		File:  cfg.PasswordFile,
	})
	if err != nil {
		return nil, err
	}

	redis := cache.NewRedis(addr, password, cfg.DB, cfg.TTL)
	if err := redis.Ping(ctx); err != nil {
		redis.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}

	log.Info("connected to redis", zap.String("addr", addr), zap.Duration("ttl", cfg.TTL))
	return redis, nil
}

func prepareRanking(cfg *MatchingConfig, aiCfg *AIConfig, scorer *matching.Scorer, log *zap.Logger) *matching.Matching {
	steps := []matching.Filter{
		matching.NewVisibility(log),
		matching.NewSkillsOverlap(&matching.SkillsOverlapConfig{Enabled: cfg.SkillsOverlap}, log),
		matching.NewAIFit(&matching.AIFitFilterConfig{
			Enabled:         cfg.AIFit && scorer != nil,
			Concurrency:     cfg.Concurrency,
			MinimumFitScore: aiCfg.MinimumFitScore,
			Model:           aiCfg.Gemini.Model,
		}, &matching.AIFitFilterDeps{
			Scorer: scorer,
			Logger: log,
		}),
	}

	return matching.New(steps, log)
}

func redacted(c *Config) *Config {
	out := *c

	gem := *c.AI.Gemini
	gem.APIKey = mask(gem.APIKey)
	aiCfg := *c.AI
	aiCfg.Gemini = &gem
	out.AI = &aiCfg

	db := *c.Database
	db.URL = mask(db.URL)
	out.Database = &db

	ch := *c.Cache
	ch.Password = mask(ch.Password)
	out.Cache = &ch

	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
