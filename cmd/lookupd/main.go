package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmerrifield20/ResultLedger/internal/lookup"
	"github.com/jmerrifield20/ResultLedger/pkg/client"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("lookupd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ─────────────────────────────────────────────────────────
	viper.SetConfigName("lookupd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("lookup.grpc_port", 9090)
	viper.SetDefault("lookup.http_port", 9091) // grpc-gateway REST port
	viper.SetDefault("lookup.ledger_url", "http://localhost:8080")
	viper.SetDefault("lookup.cache_ttl_seconds", 60)
	viper.SetDefault("lookup.http_timeout_seconds", 5)
	viper.SetDefault("lookup.eviction_interval_seconds", 60)
	viper.SetDefault("fingerprint.algorithm", "sha256")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	grpcPort := viper.GetInt("lookup.grpc_port")
	httpPort := viper.GetInt("lookup.http_port")
	ledgerURL := viper.GetString("lookup.ledger_url")
	cacheTTL := time.Duration(viper.GetInt("lookup.cache_ttl_seconds")) * time.Second
	httpTimeout := time.Duration(viper.GetInt("lookup.http_timeout_seconds")) * time.Second
	evictionInterval := time.Duration(viper.GetInt("lookup.eviction_interval_seconds")) * time.Second

	// ── Lookup service ────────────────────────────────────────────────────────
	hasher, err := fingerprint.ByName(viper.GetString("fingerprint.algorithm"))
	if err != nil {
		return err
	}
	ledgerClient, err := client.New(ledgerURL, client.WithTimeout(httpTimeout), client.WithHasher(hasher))
	if err != nil {
		return fmt.Errorf("ledger client: %w", err)
	}
	svc := lookup.New(ledgerClient, lookup.Config{CacheTTL: cacheTTL, Hasher: hasher}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cacheTTL > 0 {
		svc.StartCacheEviction(ctx, evictionInterval)
	}

	// ── gRPC server ───────────────────────────────────────────────────────────
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(lookup.LoggingInterceptor(logger)),
	)
	lookup.RegisterLedgerLookupServer(grpcServer, svc)

	healthSvc := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus(lookup.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// For grpcurl and Evans.
	reflection.Register(grpcServer)

	// ── grpc-gateway HTTP/JSON reverse proxy ──────────────────────────────────
	conn, err := grpc.NewClient(
		fmt.Sprintf("localhost:%d", grpcPort),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("dial local gRPC: %w", err)
	}
	defer conn.Close()

	gwMux, err := lookup.NewGateway(conn)
	if err != nil {
		return fmt.Errorf("register grpc-gateway: %w", err)
	}

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rl_lookup_cache_entries",
		Help: "Number of ledger records held in the lookup cache.",
	}, func() float64 { return float64(svc.CacheStats().Entries) })
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "rl_lookup_cache_hits_total",
		Help: "Lookups answered from the record cache.",
	}, func() float64 { return float64(svc.CacheStats().Hits) })
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "rl_lookup_cache_misses_total",
		Help: "Lookups that went to the ledger server.",
	}, func() float64 { return float64(svc.CacheStats().Misses) })

	httpMux := http.NewServeMux()
	httpMux.Handle("/", gwMux)
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","service":"lookupd"}`)
	})
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Start both servers ─────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("lookupd gRPC listening",
			zap.Int("port", grpcPort),
			zap.String("ledger", ledgerURL),
			zap.Duration("cache_ttl", cacheTTL),
		)
		if err := grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("gRPC serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("lookupd HTTP/JSON gateway listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP serve: %w", err)
		}
		return nil
	})

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down lookupd...")
		healthSvc.Shutdown()
		grpcServer.GracefulStop()

		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Error("HTTP gateway shutdown", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("lookupd stopped")
	return nil
}
