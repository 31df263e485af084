package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lendhub/config"
	"lendhub/native/lending/store"
	"lendhub/observability"
	"lendhub/observability/logging"
	telemetry "lendhub/observability/otel"
	lendingdconfig "lendhub/services/lendingd/config"
	"lendhub/services/lendingd/ledger"
	"lendhub/services/lendingd/server"
	"lendhub/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := lendingdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("LENDHUB_ENV"))
	logger := logging.Setup("lendingd", env, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	logger.Info("lendingd configured",
		"listen", cfg.ListenAddress,
		"market", cfg.MarketPath,
		"data_dir", cfg.DataDir,
		"journal", logging.MaskValue(cfg.Journal),
		"hmac_secret", logging.MaskValue(cfg.Auth.HMACSecret))
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	sampleRatio := 0.0
	if value := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			sampleRatio = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
		SampleRatio: sampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	market, err := config.Load(cfg.MarketPath)
	if err != nil {
		log.Fatalf("load market: %v", err)
	}
	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		log.Fatalf("open data dir: %v", err)
	}
	defer db.Close()

	var journal *ledger.Journal
	if cfg.Journal != "" {
		journal, err = ledger.OpenJournal(cfg.Journal)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		defer journal.Close()
	}

	metrics := observability.Ledger()
	lendingLedger, err := ledger.New(ledger.Options{
		Market:  market,
		Store:   store.New(db),
		Journal: journal,
		Metrics: metrics,
		Logger:  logger,
		Admins:  cfg.Auth.AdminAddresses(),
	})
	if err != nil {
		log.Fatalf("start ledger: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}
	if tlsCfg != nil {
		listener = tls.NewListener(listener, tlsCfg)
	}

	api := server.New(server.Config{
		Ledger: lendingLedger,
		Auth: server.NewAuthenticator(server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, logger),
		Limiter: server.NewRateLimiter(server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, metrics),
		Metrics: metrics,
		Logger:  logger,
	})
	httpServer := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", cfg.ListenAddress, "tls", tlsCfg != nil, "market", market.Name)
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func openDatabase(dir string) (storage.Database, error) {
	if dir == "" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dir)
}

func loadServerTLS(cfg lendingdconfig.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.MTLSEnabled() {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}
	return tlsCfg, nil
}
