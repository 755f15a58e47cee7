package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaycargo/relay/backend/internal/auth"
	"github.com/relaycargo/relay/backend/internal/chat"
	"github.com/relaycargo/relay/backend/internal/collab"
	"github.com/relaycargo/relay/backend/internal/config"
	"github.com/relaycargo/relay/backend/internal/database"
	"github.com/relaycargo/relay/backend/internal/logging"
	"github.com/relaycargo/relay/backend/internal/partners"
	"github.com/relaycargo/relay/backend/internal/server"
	"github.com/relaycargo/relay/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay-api",
		Short: "Relay cargo collaboration backend service",
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
	cmd.PersistentFlags().String("session-cookie", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().String("session-issuer", defaults.GetString("session.issuer"), "Expected session token issuer")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Bool("dev-login", defaults.GetBool("session.dev_login"), "Mount the direct session login endpoint")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.cookie_name", "session-cookie")
	bindFlag(cmd, "session.issuer", "session-issuer")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.dev_login", "dev-login")
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

	requestFeed := collab.NewFeed()
	requestStore, err := collab.NewSQLiteStore(collab.SQLiteStoreConfig{
		Database: db,
		Feed:     requestFeed,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	requestService, err := collab.NewService(collab.ServiceConfig{
		Store:      requestStore,
		Clock:      time.Now,
		IDProvider: collab.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	chatFeed := chat.NewFeed()
	chatLog, err := chat.NewSQLiteLog(chat.SQLiteLogConfig{
		Database: db,
		Feed:     chatFeed,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Log:    chatLog,
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	directory, err := users.NewDirectory(users.DirectoryConfig{Database: db})
	if err != nil {
		return err
	}
	partnerResolver, err := partners.NewResolver(partners.ResolverConfig{
		Store:     requestStore,
		Feed:      requestFeed,
		Directory: directory,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	var sessionIssuer *auth.SessionIssuer
	if appConfig.DevLogin {
		sessionIssuer, err = auth.NewSessionIssuer(auth.SessionIssuerConfig{
			SigningSecret: []byte(appConfig.SessionSigningKey),
			Issuer:        appConfig.SessionIssuer,
		})
		if err != nil {
			return err
		}
		logger.Warn("direct session login endpoint enabled")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:  sessionValidator,
		Issuer:    sessionIssuer,
		Requests:  requestService,
		Feed:      requestFeed,
		Chat:      chatService,
		ChatLog:   chatLog,
		Partners:  partnerResolver,
		Directory: directory,
		Logger:    logger,
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
