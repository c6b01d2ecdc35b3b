package mintd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mintbot/observability/logging"
	telemetry "mintbot/observability/otel"
	"mintbot/services/mintd/ledger"
	"mintbot/services/mintd/notify"
	"mintbot/services/mintd/secrets"
	"mintbot/services/mintd/storage"
	"mintbot/services/mintd/wallet"
)

// Main initialises and runs the minting daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/mintd/config.yaml", "path to mintd configuration (.yaml or .toml)")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("MINTD_ENV"))
	logger, logCloser := logging.Setup(logging.Options{
		Service:    "mintd",
		Env:        env,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Level:      parseLevel(cfg.Log.Level),
	})
	defer func() { _ = logCloser.Close() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("mintd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	store, err := ledger.Open(ledger.Config{Driver: cfg.Ledger.Driver, DSN: cfg.Ledger.DSN})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = store.Close() }()

	provider, err := secrets.NewManager(secrets.Config{
		Backend:  secrets.Backend(cfg.Secrets.Backend),
		BasePath: cfg.Secrets.BasePath,
	})
	if err != nil {
		return fmt.Errorf("init secrets: %w", err)
	}

	clients := make(map[Network]wallet.Client, 2)
	for network, netCfg := range map[Network]NetworkConfig{NetworkPrimary: cfg.Networks.Primary, NetworkSecondary: cfg.Networks.Secondary} {
		dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		client, err := wallet.Dial(dialCtx, walletConfig(network, netCfg, cfg.Mint.ConfirmTimeout.Duration))
		cancel()
		if err != nil {
			return fmt.Errorf("dial %s: %w", network, err)
		}
		defer client.Close()
		clients[network] = wallet.WithRetry(client, cfg.Mint.SubmitAttempts, cfg.Mint.RetryInitial.Duration)
	}

	notifiers := notify.Multi{notify.LogNotifier{Logger: logger}}
	if cfg.Alerts.Webhook.URL != "" {
		webhook, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:         cfg.Alerts.Webhook.URL,
			BearerToken: cfg.Alerts.Webhook.BearerToken,
			Timeout:     cfg.Alerts.Timeout.Duration,
			PerMinute:   cfg.Alerts.Webhook.PerMinute,
			Burst:       cfg.Alerts.Webhook.Burst,
		})
		if err != nil {
			return fmt.Errorf("init webhook: %w", err)
		}
		notifiers = append(notifiers, webhook)
	}

	opts := []Option{WithLogger(logger), WithNotifier(notifiers)}
	if cfg.Backup.Storage.Enabled() {
		objects, err := storage.NewObjectStore(storage.Config{
			Endpoint:  cfg.Backup.Storage.Endpoint,
			Bucket:    cfg.Backup.Storage.Bucket,
			Region:    cfg.Backup.Storage.Region,
			AccessKey: cfg.Backup.Storage.AccessKey,
			SecretKey: cfg.Backup.Storage.SecretKey,
			UseSSL:    cfg.Backup.Storage.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		opts = append(opts, WithStorage(objects))
	} else {
		logger.Warn("mintd backups disabled: backup.storage.endpoint not configured")
	}

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	engine, err := NewEngine(settings, store, clients, provider, opts...)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	auth, err := NewAuthenticator(AuthConfig{
		BearerToken: cfg.Admin.BearerToken,
		JWTSecret:   cfg.Admin.JWTSecret,
		JWTIssuer:   cfg.Admin.JWTIssuer,
		JWTAudience: cfg.Admin.JWTAudience,
		AllowMTLS:   cfg.Admin.ClientCA != "",
	})
	if err != nil {
		return fmt.Errorf("admin auth: %w", err)
	}
	base := context.Background()
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(NewAdminServer(base, engine, auth), "mintd.admin"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.Admin.ClientCA != "" {
		tlsConfig, err := clientCAConfig(cfg.Admin.ClientCA)
		if err != nil {
			return err
		}
		httpServer.TLSConfig = tlsConfig
	}

	if cfg.AutoStart {
		if err := engine.Start(base); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("mintd admin listening", slog.String("addr", cfg.ListenAddress))
		if cfg.Admin.TLSCert != "" {
			errs <- httpServer.ListenAndServeTLS(cfg.Admin.TLSCert, cfg.Admin.TLSKey)
			return
		}
		errs <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-stopCtx.Done():
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	engine.Stop()
	if err := engine.Wait(); err != nil {
		logger.Error("mintd engine exited with error", slog.Any("error", err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
		return err
	}
	return serveErr
}

func walletConfig(network Network, n NetworkConfig, confirm time.Duration) wallet.NetworkConfig {
	return wallet.NetworkConfig{
		Name:           string(network),
		RPCURL:         n.RPCURL,
		ChainID:        n.ChainID,
		Contract:       n.Contract,
		TokenID:        n.TokenID,
		Amount:         n.Amount,
		GasHeadroom:    n.GasHeadroom,
		ConfirmTimeout: confirm,
		ReceiptPoll:    n.ReceiptPoll.Duration,
	}
}

func clientCAConfig(path string) (*tls.Config, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client_ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client_ca contains no certificates")
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientCAs:  pool,
		ClientAuth: tls.VerifyClientCertIfGiven,
	}, nil
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}
