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
)

type (
	Config struct {
		TelegramAPIToken string  `env:"TOKEN,required"`
		OwnerIDs         []int64 `env:"OWNER_IDS,required"`
		AdminIDs         []int64 `env:"ADMIN_IDS"`
		DefaultLanguage  string  `env:"LANG,default=en"`
		LogLevel         int     `env:"LOG_LEVEL,default=4"`
		DotPath          string  `env:"DOT_PATH,default=~/.zultra"`

		Dispatch  Dispatch
		RateLimit RateLimit
		AntiSpam  AntiSpam
		Audit     Audit
		LLM       LLM
	}

	Dispatch struct {
		QueueSize           int           `env:"QUEUE_SIZE,default=1024"`
		Workers             int           `env:"WORKERS,default=8"`
		HandlerTimeout      time.Duration `env:"HANDLER_TIMEOUT,default=30s"`
		UnknownCommandReply bool          `env:"UNKNOWN_COMMAND_REPLY,default=true"`
	}

	RateLimit struct {
		GlobalMax    int           `env:"RATE_GLOBAL_MAX,default=30"`
		GlobalWindow time.Duration `env:"RATE_GLOBAL_WINDOW,default=60s"`
		AIMax        int           `env:"RATE_AI_MAX,default=10"`
		AIWindow     time.Duration `env:"RATE_AI_WINDOW,default=300s"`
	}

	AntiSpam struct {
		BurstThreshold     int           `env:"SPAM_BURST_THRESHOLD,default=10"`
		BurstWindow        time.Duration `env:"SPAM_BURST_WINDOW,default=5s"`
		DuplicateThreshold int           `env:"SPAM_DUPLICATE_THRESHOLD,default=3"`
		DuplicateHistory   int           `env:"SPAM_DUPLICATE_HISTORY,default=10"`
		LinkDensity        float64       `env:"SPAM_LINK_DENSITY,default=0.5"`
		StrikesToBlock     int           `env:"SPAM_STRIKES_TO_BLOCK,default=3"`
		CleanPeriod        time.Duration `env:"SPAM_CLEAN_PERIOD,default=10m"`
		WarnOnFlag         bool          `env:"SPAM_WARN_ON_FLAG,default=false"`
		Whitelist          []int64       `env:"SPAM_WHITELIST"`
	}

	Audit struct {
		KafkaBrokers []string `env:"AUDIT_KAFKA_BROKERS"`
		KafkaTopic   string   `env:"AUDIT_KAFKA_TOPIC,default=zultra-audit"`
		MetricsAddr  string   `env:"METRICS_ADDR,default=:2112"`
	}

	LLM struct {
		APIKey  string `env:"LLM_API_KEY"`
		Model   string `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL string `env:"LLM_API_URL,default=https://api.openai.com/v1"`
		Type    string `env:"LLM_API_TYPE,default=openai"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("ZU_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			globalErr = fmt.Errorf("validate config: %w", err)
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

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// Validate rejects configurations the pipeline cannot serve with. A failure
// here is fatal at startup, never at runtime.
func (c *Config) Validate() error {
	if len(c.OwnerIDs) == 0 {
		return fmt.Errorf("owner id list is empty")
	}
	if c.RateLimit.GlobalMax <= 0 || c.RateLimit.AIMax <= 0 {
		return fmt.Errorf("rate limit max must be positive")
	}
	if c.RateLimit.GlobalWindow <= 0 || c.RateLimit.AIWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.AntiSpam.BurstThreshold <= 0 || c.AntiSpam.BurstWindow <= 0 {
		return fmt.Errorf("spam burst threshold and window must be positive")
	}
	if c.AntiSpam.DuplicateThreshold <= 0 || c.AntiSpam.DuplicateHistory < c.AntiSpam.DuplicateThreshold {
		return fmt.Errorf("spam duplicate history must hold at least the duplicate threshold")
	}
	if c.AntiSpam.StrikesToBlock <= 0 || c.AntiSpam.CleanPeriod <= 0 {
		return fmt.Errorf("spam strike threshold and clean period must be positive")
	}
	if c.Dispatch.QueueSize <= 0 || c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch queue size and worker count must be positive")
	}
	if c.Dispatch.HandlerTimeout <= 0 {
		return fmt.Errorf("handler timeout must be positive")
	}
	return nil
}
