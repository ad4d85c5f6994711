package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/adapters"
	"github.com/iamwavecut/ngguard/internal/adapters/llm"
	"github.com/iamwavecut/ngguard/internal/adapters/llm/gemini"
	"github.com/iamwavecut/ngguard/internal/adapters/llm/openai"
	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/classifier"
	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/db/redis"
	"github.com/iamwavecut/ngguard/internal/db/sqlite"
	"github.com/iamwavecut/ngguard/internal/infra"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/lifecycle"
	"github.com/iamwavecut/ngguard/internal/moderation"
	"github.com/iamwavecut/ngguard/internal/observability"
	"github.com/iamwavecut/ngguard/internal/translator"
)

const (
	maxUpdatesInFlight = 16
	maxPromptExamples  = 5
)

func main() {
	log.SetFormatter(config.NewNbFormatter(false))
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Errorln("exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if err := observability.Init(ctx); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("observability shutdown failed")
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return fmt.Errorf("init bot api: %w", err)
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	log.WithField("username", botAPI.Self.UserName).Info("authorized")

	models, err := openModels(ctx, cfg)
	if err != nil {
		return err
	}
	defer models.close()

	gateway := telegram.NewGateway(botAPI, cfg.GatewayRPS, cfg.Impersonation.AvatarDistance)
	examples, err := classifier.LoadExamples(ctx, store, maxPromptExamples)
	if err != nil {
		log.WithField("error", err.Error()).Warn("starting without stored spam examples")
	}
	spamClassifier := classifier.NewLLM(models.analysis, models.plain, log.WithField("object", "LLMClassifier")).
		WithExamples(examples)

	opts := []moderation.Option{
		moderation.WithStore(store),
		moderation.WithTranslator(translator.New(models.plain, gateway)),
	}
	if cfg.Secondary.Type == "zeroshot" {
		modelsDir, err := infra.GetWorkDir(cfg.DotPath, cfg.Secondary.ModelsDir)
		if err != nil {
			return err
		}
		zeroShot, err := classifier.LoadZeroShot(modelsDir, cfg.Secondary.Model, log.WithField("object", "ZeroShot"))
		if err != nil {
			return fmt.Errorf("load zero-shot model: %w", err)
		}
		opts = append(opts, moderation.WithSecondary(zeroShot))
	}

	engine, err := moderation.NewEngine(cfg, gateway, spamClassifier, opts...)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	if err := engine.Warmup(ctx); err != nil {
		log.WithError(err).Warn("cache warmup failed")
	}

	processor := bot.NewUpdateProcessor(engine, gateway, store, cfg.DefaultLanguage)

	runtime := lifecycle.NewRuntime()
	runtime.Register("metrics", observability.NewMetricsServer(cfg.MetricsAddr))
	runtime.Register("janitor", moderation.NewJanitor(engine, store, cfg.SweepInterval))
	runtime.Register("poller", bot.NewPoller(botAPI, processor, maxUpdatesInFlight))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if _, changed := <-infra.MonitorExecutable(runCtx, 0); changed {
			log.Warn("executable file was modified, shutting down")
			cancel()
		}
	}()

	if err := runtime.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (db.Client, error) {
	switch cfg.Store.Type {
	case "redis":
		client, err := redis.NewRedisClient(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return client, nil
	default:
		dir, err := infra.GetWorkDir(cfg.DotPath)
		if err != nil {
			return nil, err
		}
		client, err := sqlite.NewSQLiteClient(ctx, dir, filepath.Base(cfg.Store.SQLiteFile))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return client, nil
	}
}

type llmModels struct {
	analysis adapters.LLM
	plain    adapters.LLM
	closers  []func() error
}

func (m *llmModels) close() {
	for _, closer := range m.closers {
		_ = closer()
	}
}

// openModels builds two clients for the configured provider: one constrained
// to JSON answers for analysis, one free-form for confirmation and translation.
func openModels(ctx context.Context, cfg config.Config) (*llmModels, error) {
	switch cfg.LLM.Type {
	case "gemini":
		analysis, err := gemini.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, log.WithField("object", "Gemini"))
		if err != nil {
			return nil, err
		}
		analysis.WithParameters(&llm.GenerationParameters{
			Temperature:      0.1,
			TopK:             40,
			TopP:             0.95,
			MaxOutputTokens:  256,
			ResponseMIMEType: "application/json",
		})
		plain, err := gemini.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, log.WithField("object", "Gemini"))
		if err != nil {
			_ = analysis.Close()
			return nil, err
		}
		return &llmModels{
			analysis: analysis,
			plain:    plain,
			closers:  []func() error{analysis.Close, plain.Close},
		}, nil
	default:
		logger := log.WithField("object", "OpenAI")
		return &llmModels{
			analysis: openai.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, logger).WithJSONMode(true),
			plain:    openai.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, logger),
		}, nil
	}
}
