package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/assets"
	"github.com/MarcoPoloResearchLab/folio/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/internal/config"
	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/MarcoPoloResearchLab/folio/internal/credentials"
	"github.com/MarcoPoloResearchLab/folio/internal/database"
	"github.com/MarcoPoloResearchLab/folio/internal/logging"
	"github.com/MarcoPoloResearchLab/folio/internal/login"
	"github.com/MarcoPoloResearchLab/folio/internal/server"
	"github.com/MarcoPoloResearchLab/folio/internal/settings"
	"github.com/MarcoPoloResearchLab/folio/internal/synctoken"
	"github.com/MarcoPoloResearchLab/folio/internal/totp"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const tokenAudience = "folio-admin-api"

var (
	cfgFile string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "folio-api",
		Short: "Folio portfolio backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newSyncTokenCommand(), newTOTPCodeCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("http.public_base_url"), "Public URL used for ephemeral asset links")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Relational driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Relational database DSN or sqlite path")
	cmd.PersistentFlags().String("settings-path", defaults.GetString("settings.path"), "Settings store path")
	cmd.PersistentFlags().String("mongo-uri", "", "Remote document store URI (enables remote content)")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for login flows (in-memory when empty)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Admin session TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Admin session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_base_url", "public-base-url")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "settings.path", "settings-path")
	bindFlag(cmd, "mongo.uri", "mongo-uri")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
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

func newSyncTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-token",
		Short: "Print the sync token for the stored admin credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := settings.Open(viper.GetString("settings.path"))
			if err != nil {
				return err
			}
			defer store.Close()

			credentialStore, err := credentials.NewStore(credentials.StoreConfig{
				Settings:        store,
				DefaultUsername: viper.GetString("admin.default_username"),
				DefaultPassword: viper.GetString("admin.default_password"),
			})
			if err != nil {
				return err
			}
			token, err := synctoken.Encode(credentialStore.Current())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newTOTPCodeCommand() *cobra.Command {
	var secret string
	command := &cobra.Command{
		Use:   "totp-code",
		Short: "Print the current one-time code for a secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := totp.NewEngine(totp.Config{}).CurrentCode(secret, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
	command.Flags().StringVar(&secret, "secret", "", "Base32 TOTP secret")
	_ = command.MarkFlagRequired("secret")
	return command
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settingsStore, err := settings.Open(appConfig.SettingsPath)
	if err != nil {
		return err
	}
	defer settingsStore.Close()

	credentialStore, err := credentials.NewStore(credentials.StoreConfig{
		Settings:        settingsStore,
		DefaultUsername: appConfig.AdminDefaultUsername,
		DefaultPassword: appConfig.AdminDefaultPassword,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	totpEngine := totp.NewEngine(totp.Config{})
	machine, err := login.NewMachine(login.MachineConfig{
		Credentials: credentialStore,
		Codes:       totpEngine,
		DecodeToken: synctoken.Decode,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	var flows login.FlowStore = login.NewMemoryFlowStore(time.Now)
	if appConfig.RedisURL != "" {
		redisClient, err := database.ConnectRedis(signalCtx, appConfig.RedisURL, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		flows = login.NewRedisFlowStore(redisClient)
	}
	loginService, err := login.NewService(login.ServiceConfig{
		Machine: machine,
		Flows:   flows,
		FlowTTL: appConfig.LoginFlowTTL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	localStore, err := content.NewLocalStore(content.LocalStoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	contentConfig := content.ServiceConfig{
		Local:         localStore,
		Settings:      settingsStore,
		IsEphemeral:   assets.IsEphemeralURL,
		RemoteTimeout: appConfig.MongoTimeout,
		Logger:        logger,
	}
	if appConfig.RemoteContentEnabled() {
		mongoClient, mongoDatabase, err := database.ConnectMongo(signalCtx, appConfig.MongoURI, appConfig.MongoDatabase, appConfig.MongoTimeout, logger)
		if err != nil {
			return err
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Disconnect(disconnectCtx)
		}()
		remoteStore, err := content.NewMongoStore(content.MongoStoreConfig{Database: mongoDatabase, Logger: logger})
		if err != nil {
			return err
		}
		indexCtx, cancelIndexes := context.WithTimeout(signalCtx, appConfig.MongoTimeout)
		if err := remoteStore.EnsureIndexes(indexCtx); err != nil {
			logger.Warn("failed to ensure remote indexes", zap.Error(err))
		}
		cancelIndexes()
		contentConfig.Remote = remoteStore
	}
	contentService, err := content.NewService(contentConfig)
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	detach := dispatcher.ConnectContent(contentService)
	defer detach()
	contentService.Start(signalCtx)

	gateway := assets.NewGateway(assets.GatewayConfig{
		Tokens: []assets.TokenSource{
			assets.SettingsToken{Store: settingsStore, Logger: logger},
			assets.StaticToken(appConfig.AssetsAccessToken),
			assets.StaticToken(assets.DefaultAccessToken),
		},
		Blob:      &assets.BlobUploader{BaseURL: appConfig.AssetsBlobAPIURL},
		Ephemeral: assets.NewEphemeralStore(appConfig.PublicBaseURL, int(appConfig.AssetsEphemeralMaxBytes)),
		Logger:    logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Login:          loginService,
		Throttle:       login.NewThrottle(appConfig.LoginAttemptsPerMinute, appConfig.LoginBurst, time.Now),
		Tokens:         tokenManager,
		Credentials:    credentialStore,
		TOTP:           totpEngine,
		TOTPIssuer:     appConfig.TOTPIssuer,
		Content:        contentService,
		Assets:         gateway,
		Settings:       settingsStore,
		Realtime:       dispatcher,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with the signal context instead of holding shutdown open.
		BaseContext: func(net.Listener) context.Context { return signalCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("remote_content", appConfig.RemoteContentEnabled()),
			zap.String("database_driver", appConfig.DatabaseDriver),
		)
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
