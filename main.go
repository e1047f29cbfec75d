package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zultrabot/zultra/internal/adapters"
	"github.com/zultrabot/zultra/internal/adapters/llm/gemini"
	"github.com/zultrabot/zultra/internal/adapters/llm/openai"
	"github.com/zultrabot/zultra/internal/antispam"
	"github.com/zultrabot/zultra/internal/audit"
	"github.com/zultrabot/zultra/internal/bot"
	"github.com/zultrabot/zultra/internal/config"
	"github.com/zultrabot/zultra/internal/db/sqlite"
	"github.com/zultrabot/zultra/internal/handlers"
	"github.com/zultrabot/zultra/internal/infra"
	"github.com/zultrabot/zultra/internal/lifecycle"
	"github.com/zultrabot/zultra/internal/observability"
	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetFormatter(&config.ZuFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := observability.Init(ctx, cfg.Audit.MetricsAddr); err != nil {
		log.WithError(err).Fatalln("cant initialize observability")
	}

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithError(err).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}

	dbClient := sqlite.NewSQLiteClient("zultra.db")
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.WithError(err).Warnln("cant close db")
		}
	}()
	service := bot.NewService(botAPI, dbClient)

	resolver := permissions.NewResolver(cfg.OwnerIDs, cfg.AdminIDs)
	limiter := ratelimit.NewLimiter(
		map[string]ratelimit.Budget{
			ratelimit.ScopeGlobal: {Max: cfg.RateLimit.GlobalMax, Window: cfg.RateLimit.GlobalWindow},
			ratelimit.ScopeAI:     {Max: cfg.RateLimit.AIMax, Window: cfg.RateLimit.AIWindow},
		},
		ratelimit.Budget{Max: cfg.RateLimit.GlobalMax, Window: cfg.RateLimit.GlobalWindow},
	)
	detector := antispam.NewDetector(antispam.Settings{
		BurstThreshold:     cfg.AntiSpam.BurstThreshold,
		BurstWindow:        cfg.AntiSpam.BurstWindow,
		DuplicateThreshold: cfg.AntiSpam.DuplicateThreshold,
		DuplicateHistory:   cfg.AntiSpam.DuplicateHistory,
		LinkDensity:        cfg.AntiSpam.LinkDensity,
		StrikesToBlock:     cfg.AntiSpam.StrikesToBlock,
		CleanPeriod:        cfg.AntiSpam.CleanPeriod,
		Whitelist:          cfg.AntiSpam.Whitelist,
	})

	runtime := lifecycle.NewRuntime(lifecycle.Func{
		OnStop: func(context.Context) error {
			botAPI.StopReceivingUpdates()
			return nil
		},
	})
	var sink audit.Sink
	if len(cfg.Audit.KafkaBrokers) > 0 {
		kafkaSink := audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		runtime.Register(kafkaSink)
		sink = kafkaSink
	}
	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Fatalln("cant start components")
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithError(err).Warnln("cant stop components")
		}
	}()

	registry := buildRegistry(cfg, service, detector)
	dispatcher := bot.NewDispatcher(service, cfg, registry, resolver, limiter, detector, audit.NewLogger(sink))

	queue := bot.NewQueue(cfg.Dispatch.QueueSize)
	var workers errgroup.Group
	for i := 0; i < cfg.Dispatch.Workers; i++ {
		workers.Go(func() error {
			for u := range queue.Updates() {
				dispatcher.HandleUpdate(ctx, &u)
			}
			return nil
		})
	}

	log.Infoln("serving updates")
	infra.GoRecoverable(0, "update pump", func() {
		pumpUpdates(ctx, cancel, botAPI, queue, dispatcher)
	})

	queue.Close()
	if err := workers.Wait(); err != nil {
		log.WithError(err).Errorln("worker pool error")
	}
	log.Infoln("shut down cleanly")
}

func pumpUpdates(ctx context.Context, cancel context.CancelFunc, botAPI *api.BotAPI, queue *bot.Queue, dispatcher *bot.Dispatcher) {
	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

	for {
		select {
		case err := <-errorChan:
			log.WithError(err).Errorln("bot api get updates error")
			cancel()
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			if !queue.Enqueue(update) {
				log.WithField("update_id", update.UpdateID).Warnln("queue full, update dropped")
				dispatcher.DropUpdate(ctx, &update)
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildRegistry(cfg config.Config, service bot.Service, detector *antispam.Detector) *bot.Registry {
	registry := bot.NewRegistry()
	if err := handlers.RegisterCore(registry, service, cfg, time.Now()); err != nil {
		log.WithError(err).Fatalln("cant register core commands")
	}
	if err := handlers.RegisterFun(registry, service); err != nil {
		log.WithError(err).Fatalln("cant register fun commands")
	}
	if err := handlers.RegisterAdmin(registry, service, detector); err != nil {
		log.WithError(err).Fatalln("cant register admin commands")
	}
	if err := handlers.RegisterAI(registry, newLLM(cfg)); err != nil {
		log.WithError(err).Fatalln("cant register ai commands")
	}
	if err := registry.Validate(); err != nil {
		log.WithError(err).Fatalln("command registry is inconsistent")
	}
	registry.Freeze()
	return registry
}

func newLLM(cfg config.Config) adapters.LLM {
	if cfg.LLM.APIKey == "" {
		log.Infoln("no llm api key, ai commands disabled")
		return nil
	}
	logger := log.WithField("context", "llm")
	switch cfg.LLM.Type {
	case "gemini":
		return gemini.NewGemini(cfg.LLM.APIKey, cfg.LLM.Model, logger)
	default:
		return openai.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, logger)
	}
}
