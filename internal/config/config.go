package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"

	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
)

type (
	Config struct {
		TelegramAPIToken string        `env:"TOKEN,required"`
		DefaultLanguage  string        `env:"LANG,default=en"`
		LogLevel         int           `env:"LOG_LEVEL,default=2"`
		DotPath          string        `env:"DOT_PATH,default=~/.ngguard"`
		MetricsAddr      string        `env:"METRICS_ADDR,default=:2112"`
		SweepInterval    time.Duration `env:"SWEEP_INTERVAL,default=10m"`
		GatewayRPS       float64       `env:"GATEWAY_RPS,default=25"`
		Store            Store
		LLM              LLM
		Secondary        Secondary
		Limiter          Limiter
		Spam             Spam
		Trust            Trust
		Offense          Offense
		Impersonation    Impersonation
		Shield           Shield
	}

	Store struct {
		Type       string `env:"STORE,default=sqlite"`
		SQLiteFile string `env:"SQLITE_FILE,default=ngguard.db"`
		RedisURL   string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	}

	LLM struct {
		APIKey  string `env:"LLM_API_KEY,required"`
		Model   string `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL string `env:"LLM_API_URL,default=https://api.openai.com/v1"`
		Type    string `env:"LLM_API_TYPE,default=openai"`
	}

	Secondary struct {
		Type      string `env:"SECONDARY_TYPE,default=llm"`
		ModelsDir string `env:"ZEROSHOT_MODELS_DIR,default=models"`
		Model     string `env:"ZEROSHOT_MODEL,default=MoritzLaurer/mDeBERTa-v3-base-mnli-xnli"`
	}

	Limiter struct {
		Concurrency       int           `env:"LIMITER_CONCURRENCY,default=4"`
		Cooldown          time.Duration `env:"LIMITER_COOLDOWN,default=3s"`
		DailyLimit        int           `env:"LIMITER_DAILY_LIMIT,default=200"`
		DailyWindow       time.Duration `env:"LIMITER_DAILY_WINDOW,default=24h"`
		PrivilegedUserIDs []int64       `env:"PRIVILEGED_USER_IDS"`
	}

	Spam struct {
		ScoreThreshold      float64       `env:"SPAM_SCORE_THRESHOLD,default=10"`
		Keywords            []string      `env:"SPAM_KEYWORDS"`
		MinWordCount        int           `env:"SPAM_MIN_WORDS,default=3"`
		SimilarityThreshold float64       `env:"SPAM_SIMILARITY_THRESHOLD,default=95"`
		TextCacheSize       int           `env:"SPAM_TEXT_CACHE_SIZE,default=500"`
		ImageCacheSize      int           `env:"SPAM_IMAGE_CACHE_SIZE,default=200"`
		ImageDistance       int           `env:"SPAM_IMAGE_DISTANCE,default=6"`
		ClassifyTimeout     time.Duration `env:"SPAM_CLASSIFY_TIMEOUT,default=30s"`
		AnalysisTimeout     time.Duration `env:"SPAM_ANALYSIS_TIMEOUT,default=5s"`
		LogChannelID        int64         `env:"SPAM_LOG_CHANNEL_ID"`
	}

	Trust struct {
		Threshold int           `env:"TRUST_THRESHOLD,default=5"`
		TTL       time.Duration `env:"TRUST_TTL,default=720h"`
	}

	Offense struct {
		Window time.Duration `env:"OFFENSE_WINDOW,default=3h"`
	}

	Impersonation struct {
		AdminTTL       time.Duration `env:"ADMIN_CACHE_TTL,default=1h"`
		WhitelistTTL   time.Duration `env:"WHITELIST_TTL,default=168h"`
		MinNameLength  int           `env:"NAME_MIN_LENGTH,default=3"`
		AvatarDistance int           `env:"AVATAR_DISTANCE,default=10"`
	}

	Shield struct {
		JoinThreshold int           `env:"SHIELD_JOIN_THRESHOLD,default=10"`
		JoinWindow    time.Duration `env:"SHIELD_JOIN_WINDOW,default=1m"`
		IdleReset     time.Duration `env:"SHIELD_IDLE_RESET,default=5m"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg, err := loadFrom(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func loadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper("NG_", lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// Validate rejects values that would silently disable a protection.
func (c *Config) Validate() error {
	if err := c.Limiter.Validate(); err != nil {
		return err
	}
	switch c.Store.Type {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("%w: unknown store type %q", ngerrors.ErrInvalidConfig, c.Store.Type)
	}
	switch c.LLM.Type {
	case "openai", "gemini":
	default:
		return fmt.Errorf("%w: unknown llm type %q", ngerrors.ErrInvalidConfig, c.LLM.Type)
	}
	switch c.Secondary.Type {
	case "llm", "zeroshot":
	default:
		return fmt.Errorf("%w: unknown secondary check type %q", ngerrors.ErrInvalidConfig, c.Secondary.Type)
	}
	if c.Spam.SimilarityThreshold <= 0 || c.Spam.SimilarityThreshold > 100 {
		return fmt.Errorf("%w: similarity threshold must be in (0, 100]", ngerrors.ErrInvalidConfig)
	}
	if !(c.Spam.ScoreThreshold >= 0) {
		return fmt.Errorf("%w: spam score threshold must not be negative", ngerrors.ErrInvalidConfig)
	}
	if c.Spam.MinWordCount < 0 {
		return fmt.Errorf("%w: minimum word count must not be negative", ngerrors.ErrInvalidConfig)
	}
	if c.Spam.TextCacheSize <= 0 || c.Spam.ImageCacheSize <= 0 {
		return fmt.Errorf("%w: spam cache sizes must be positive", ngerrors.ErrInvalidConfig)
	}
	if c.Spam.ImageDistance < 0 || c.Spam.ImageDistance > 64 || c.Impersonation.AvatarDistance < 0 || c.Impersonation.AvatarDistance > 64 {
		return fmt.Errorf("%w: hash distances must be in [0, 64]", ngerrors.ErrInvalidConfig)
	}
	if c.Spam.ClassifyTimeout <= 0 || c.Spam.AnalysisTimeout <= 0 {
		return fmt.Errorf("%w: classifier timeouts must be positive", ngerrors.ErrInvalidConfig)
	}
	if c.Trust.Threshold <= 0 {
		return fmt.Errorf("%w: trust threshold must be positive", ngerrors.ErrInvalidConfig)
	}
	if c.Trust.TTL <= 0 {
		return fmt.Errorf("%w: trust ttl must be positive", ngerrors.ErrInvalidConfig)
	}
	if c.Impersonation.AdminTTL <= 0 || c.Impersonation.WhitelistTTL <= 0 {
		return fmt.Errorf("%w: admin cache and whitelist ttl must be positive", ngerrors.ErrInvalidConfig)
	}
	if c.Impersonation.MinNameLength < 0 {
		return fmt.Errorf("%w: minimum name length must not be negative", ngerrors.ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 || !(c.GatewayRPS > 0) {
		return fmt.Errorf("%w: sweep interval and gateway rps must be positive", ngerrors.ErrInvalidConfig)
	}
	if c.Offense.Window <= 0 {
		return fmt.Errorf("%w: offense window must be positive", ngerrors.ErrInvalidConfig)
	}
	if c.Shield.JoinThreshold <= 0 || c.Shield.JoinWindow <= 0 || c.Shield.IdleReset <= 0 {
		return fmt.Errorf("%w: shield settings must be positive", ngerrors.ErrInvalidConfig)
	}
	return nil
}

func (l Limiter) Validate() error {
	switch {
	case l.Concurrency <= 0:
		return fmt.Errorf("%w: limiter concurrency must be positive, got %d", ngerrors.ErrInvalidConfig, l.Concurrency)
	case l.Cooldown <= 0:
		return fmt.Errorf("%w: limiter cooldown must be positive, got %s", ngerrors.ErrInvalidConfig, l.Cooldown)
	case l.DailyLimit <= 0:
		return fmt.Errorf("%w: limiter daily limit must be positive, got %d", ngerrors.ErrInvalidConfig, l.DailyLimit)
	case l.DailyWindow <= 0:
		return fmt.Errorf("%w: limiter daily window must be positive, got %s", ngerrors.ErrInvalidConfig, l.DailyWindow)
	}
	return nil
}

func (l Limiter) IsPrivileged(userID int64) bool {
	for _, id := range l.PrivilegedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
