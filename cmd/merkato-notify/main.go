package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/merkatolabs/merkato/backend/internal/auth"
	"github.com/merkatolabs/merkato/backend/internal/config"
	"github.com/merkatolabs/merkato/backend/internal/database"
	"github.com/merkatolabs/merkato/backend/internal/delivery"
	"github.com/merkatolabs/merkato/backend/internal/feed"
	"github.com/merkatolabs/merkato/backend/internal/logging"
	"github.com/merkatolabs/merkato/backend/internal/notifier"
	"github.com/merkatolabs/merkato/backend/internal/notify"
	"github.com/merkatolabs/merkato/backend/internal/orders"
	"github.com/merkatolabs/merkato/backend/internal/prefs"
	"github.com/merkatolabs/merkato/backend/internal/server"
	"github.com/merkatolabs/merkato/backend/internal/session"
	"github.com/merkatolabs/merkato/backend/internal/sound"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "merkato-notify",
		Short: "Merkato order notification service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("feed-url", defaults.GetString("feed.url"), "Order change-feed URL (ws://, wss:// or postgres://)")
	cmd.PersistentFlags().String("admin-phone", defaults.GetString("notify.admin_phone"), "Admin notification phone number")
	cmd.PersistentFlags().Int("retention-cap", defaults.GetInt("notify.retention_cap"), "Notification retention cap")
	cmd.PersistentFlags().String("session-storage", defaults.GetString("session.storage_path"), "Session credential storage path")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "feed.url", "feed-url")
	bindFlag(cmd, "notify.admin_phone", "admin-phone")
	bindFlag(cmd, "notify.retention_cap", "retention-cap")
	bindFlag(cmd, "session.storage_path", "session-storage")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	orderStore, err := orders.NewStore(db)
	if err != nil {
		return err
	}
	preferenceStore, err := prefs.NewStore(db)
	if err != nil {
		return err
	}

	notificationStore := notify.NewStore(notify.StoreConfig{
		RetentionCap: appConfig.RetentionCap,
		IDProvider:   notify.NewUUIDProvider(),
		Logger:       logger,
	})

	alertController := sound.NewController(sound.ControllerConfig{
		Preferences:    preferenceStore,
		DefaultEnabled: appConfig.SoundEnabled,
		Logger:         logger,
	})

	sessionManager, stopWatcher, err := buildSessionManager(appConfig, logger)
	if err != nil {
		return err
	}
	if stopWatcher != nil {
		defer stopWatcher() //nolint:errcheck
	}

	var sessionSender delivery.SessionSender
	if sessionManager != nil {
		sessionSender = sessionManager
	}
	providers := delivery.BuildProviders(appConfig.Providers, sessionSender, logger)
	dispatcher := delivery.NewDispatcher(delivery.DispatcherConfig{
		Providers: providers,
		Logger:    logger,
	})

	streamDispatcher := server.NewStreamDispatcher()

	notifierService, err := notifier.NewService(notifier.ServiceConfig{
		Store:      notificationStore,
		Alerts:     alertController,
		Dispatcher: dispatcher,
		Orders:     orderStore,
		AdminPhone: appConfig.AdminPhone,
		Publish: func(change notifier.Change) {
			streamDispatcher.Publish(server.StreamMessage{
				EventType:   server.StreamEventNotificationChanged,
				RecordID:    change.Record.ID,
				UnreadCount: change.UnreadCount,
				Timestamp:   time.Now().UTC(),
			})
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	subscriptions := feed.NewRegistry()
	defer subscriptions.Close()
	if appConfig.FeedURL != "" {
		source, sourceErr := feed.NewSource(appConfig.FeedURL)
		if sourceErr != nil {
			return sourceErr
		}
		subscription, subErr := feed.NewSubscription(feed.SubscriptionConfig{
			ChannelName: appConfig.FeedChannel,
			Source:      source,
			OnEvent:     notifierService.HandleEvent,
			Fetch: func(fetchCtx context.Context) ([]orders.Order, error) {
				return orderStore.RecentPending(fetchCtx, 10)
			},
			OnReconcile:    notifierService.HandleReconcile,
			OnFetchFailure: notifierService.HandleFetchFailure,
			Reconnect:      feed.ReconnectPolicy{Interval: appConfig.ReconnectInterval},
			FetchRetry: feed.RetryPolicy{
				MaxRetries: appConfig.FetchMaxRetries,
				BaseDelay:  feed.DefaultFetchRetry.BaseDelay,
				MaxDelay:   feed.DefaultFetchRetry.MaxDelay,
			},
			Logger: logger,
		})
		if subErr != nil {
			return subErr
		}
		dispose := subscriptions.Open(ctx, subscription)
		defer dispose()
	} else {
		logger.Warn("feed.url not configured, change-feed subscription disabled")
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "merkato-notify",
		Audience:      "merkato-api",
	})

	var sessionController server.SessionController
	if sessionManager != nil {
		sessionController = sessionManager
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		Notifications:  notificationStore,
		Dispatcher:     notifierService,
		Sessions:       sessionController,
		Preferences:    preferenceStore,
		Stream:         streamDispatcher,
		Logger:         logger,
		AllowDevTokens: appConfig.AllowDevToken,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildSessionManager(appConfig config.AppConfig, logger *zap.Logger) (*session.Manager, func() error, error) {
	if !appConfig.Providers.SessionProviderEnabled {
		return nil, nil, nil
	}
	if len(appConfig.SessionBridgeCommand) == 0 {
		logger.Warn("session provider enabled without session.bridge_command, provider disabled")
		return nil, nil, nil
	}
	runtime, err := session.NewBridgeRuntime(appConfig.SessionBridgeCommand)
	if err != nil {
		return nil, nil, err
	}
	manager, err := session.NewManager(session.ManagerConfig{
		Runtime:           runtime,
		StoragePath:       appConfig.SessionStoragePath,
		AuthTimeout:       appConfig.AuthTimeout,
		RestartOnAuthFail: appConfig.RestartOnAuthFail,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, err
	}
	stopWatcher, err := manager.WatchStorage()
	if err != nil {
		logger.Warn("session storage watcher unavailable", zap.Error(err))
		stopWatcher = nil
	}
	return manager, stopWatcher, nil
}
