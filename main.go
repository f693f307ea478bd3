package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channel-digest-bot/bot"
	"channel-digest-bot/checkpoint"
	"channel-digest-bot/config"
	"channel-digest-bot/conversation"
	"channel-digest-bot/dispatcher"
	"channel-digest-bot/fetcher"
	"channel-digest-bot/job"
	"channel-digest-bot/login"
	"channel-digest-bot/mtproto"
	"channel-digest-bot/prompt"
	"channel-digest-bot/scheduler"
	"channel-digest-bot/storage"
	"channel-digest-bot/summarizer"
	"channel-digest-bot/webpreview"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const sessionCheckTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logFatal("config load failed", err)
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	for _, warning := range cfg.Warnings {
		logger.Warn("config_warning", slog.String("detail", warning))
	}
	if len(cfg.AdminIDs) == 0 {
		logger.Warn("no_admin_ids", slog.String("detail", "all bot commands are refused"))
	}
	logger.Info("config_loaded", slog.String("fetch_source", cfg.FetchSource), slog.String("provider", cfg.Provider), slog.Int("channels", len(cfg.Channels)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		logFatal("open database", err)
	}
	db.SetMaxOpenConns(1)

	store := storage.New(db)
	if err := store.Init(ctx); err != nil {
		logFatal("init database", err)
	}

	settings := bot.NewSettings(cfg.Channels, cfg.SummaryTime)
	loadSettings(ctx, store, settings, logger)

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logFatal("create telegram bot", err)
	}
	sender := bot.NewTelegramSender(api)

	var (
		source       fetcher.Source
		loginManager *login.Manager
		sessionReady func(ctx context.Context) (bool, error)
		sessionFile  func() bool
	)
	switch cfg.FetchSource {
	case config.SourceWeb:
		web := webpreview.NewSource(nil)
		web.MaxMessages = cfg.MessageLimit
		web.Logger = logger
		source = web
	default:
		client := &mtproto.Client{
			AppID:       cfg.APIID,
			AppHash:     cfg.APIHash,
			SessionPath: cfg.SessionPath,
			MaxMessages: cfg.MessageLimit,
			Logger:      logger,
		}
		source = client
		loginManager = login.NewManager(client.Dial, logger)
		sessionFile = client.SessionExists
		sessionReady = func(ctx context.Context) (bool, error) { return client.SessionExists(), nil }
		checkSession(ctx, client, logger)
	}

	chatModel, err := summarizer.NewChatModel(ctx, summarizer.ProviderConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.AIAPIKey,
		BaseURL:  cfg.AIBaseURL,
	})
	if err != nil {
		logFatal("create chat model", err)
	}

	var checkpoints checkpoint.Store
	switch cfg.CheckpointStore {
	case config.BackendSQLite:
		checkpoints = &checkpoint.SQLStore{Storage: store}
	default:
		checkpoints = &checkpoint.FileStore{Path: cfg.CheckpointPath, Logger: logger}
	}
	loaded, err := checkpoints.Load(ctx)
	if err != nil {
		logger.Warn("checkpoints_load_failed", slog.String("error", err.Error()))
	}
	book := checkpoint.NewBook(loaded)
	logger.Info("checkpoints_loaded", slog.Int("count", book.Len()), slog.Any("channels", book.Channels()))

	prompts := &prompt.Store{Path: cfg.PromptPath}

	runner := &job.Runner{
		Fetcher: &fetcher.Fetcher{
			Source:      source,
			Checkpoints: book,
			Lookback:    cfg.Lookback(),
			Logger:      logger,
		},
		Summarizer: &summarizer.Summarizer{Model: chatModel, Logger: logger},
		Dispatcher: &dispatcher.Dispatcher{
			Sender:  sender,
			Targets: dispatcher.Targets(cfg.PushGroups, cfg.PushUsers),
			Title:   cfg.TitleTemplate,
			Footer:  cfg.FooterTemplate,
			Logger:  logger,
		},
		Checkpoints:  book,
		Store:        checkpoints,
		Prompts:      prompts,
		Alerter:      &bot.Alerter{Sender: sender, Recipients: cfg.AlertRecipients(), Logger: logger},
		Channels:     settings.Channels,
		SessionReady: sessionReady,
		Logger:       logger,
	}

	sched, err := scheduler.New(settings.SummaryTime(), cfg.Timezone, func() {
		runner.Scheduled(ctx)
	})
	if err != nil {
		logFatal("init scheduler", err)
	}
	sched.Start()
	logger.Info("scheduler_started", slog.String("summary_time", settings.SummaryTime()), slog.Time("next", sched.Next()))

	botHandler := &bot.Bot{
		Sender:        sender,
		Storage:       store,
		Runner:        runner,
		Scheduler:     sched,
		Prompts:       prompts,
		Settings:      settings,
		Conversations: conversation.NewHub(),
		Login:         loginManager,
		SessionExists: sessionFile,
		AdminIDs:      cfg.AdminIDs,
		LookbackDays:  cfg.LookbackDays,
		Logger:        logger,
	}

	poller := &bot.Poller{
		API:     api,
		Logger:  logger,
		Handler: botHandler.ProcessUpdate,
	}

	polled := make(chan struct{})
	go func() {
		defer close(polled)
		poller.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("shutdown")

	<-polled
	sched.Stop()
	botHandler.Wait()
	if err := db.Close(); err != nil {
		logger.Warn("db_close_failed", slog.String("error", err.Error()))
	}
}

// loadSettings overlays values changed at runtime over the config file.
func loadSettings(ctx context.Context, store *storage.Storage, settings *bot.Settings, logger *slog.Logger) {
	if channels, ok, err := store.LoadChannels(ctx); err != nil {
		logger.Warn("settings_channels_failed", slog.String("error", err.Error()))
	} else if ok && len(channels) > 0 {
		settings.SetChannels(channels)
	}
	if val, ok, err := store.GetSetting(ctx, storage.SettingSummaryTime); err == nil && ok {
		if _, err := scheduler.ParseWeekly(val); err == nil {
			settings.SetSummaryTime(val)
		} else {
			logger.Warn("settings_summary_time_invalid", slog.String("value", val), slog.String("error", err.Error()))
		}
	}
	logger.Info("settings_loaded", slog.Int("channels", len(settings.Channels())), slog.String("summary_time", settings.SummaryTime()))
}

func checkSession(ctx context.Context, client *mtproto.Client, logger *slog.Logger) {
	if !client.SessionExists() {
		logger.Warn("mtproto_session_missing", slog.String("detail", "use /tg_login to sign in"))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sessionCheckTimeout)
	defer cancel()
	ok, err := client.Authorized(ctx)
	if err != nil {
		logger.Warn("mtproto_session_check_failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("mtproto_session_checked", slog.Bool("authorized", ok))
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func logFatal(msg string, err error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
