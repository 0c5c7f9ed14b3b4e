package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/meeting-service/config"
	"github.com/cwrk-planet/meeting-service/internal/badgerstore"
	"github.com/cwrk-planet/meeting-service/internal/dynamo"
	"github.com/cwrk-planet/meeting-service/internal/identity"
	"github.com/cwrk-planet/meeting-service/internal/postgres"
	"github.com/cwrk-planet/meeting-service/internal/repository"
	"github.com/cwrk-planet/meeting-service/internal/service"
	grpcx "github.com/cwrk-planet/meeting-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/meeting-service/internal/transport/http"
	"github.com/cwrk-planet/meeting-service/internal/transport/ws"
	"github.com/cwrk-planet/meeting-service/pkg/logger"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting meeting-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- store ---
	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore()

	verifier, err := newVerifier(cfg.Auth)
	if err != nil {
		slog.Error("identity verifier", slog.Any("err", err))
		os.Exit(1)
	}

	// --- service & WS hub ---
	hub := ws.NewHub()
	svc := service.NewMeetingService(repo)
	svc.SetEventSink(hub)
	svc.SetRetryPolicy(retryPolicy(cfg.Meetings))

	wsServer := ws.NewServer(hub, svc, verifier, cfg.Auth.ReporterKey)

	// --- HTTP ---
	router := httpx.NewRouter(httpx.Deps{
		Handler:        httpx.NewHandler(svc),
		Verifier:       verifier,
		ReporterKey:    cfg.Auth.ReporterKey,
		WS:             wsServer,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerInterceptor(cfg.GRPC.Timeout)),
		grpc.ChainStreamInterceptor(grpcx.StreamServerInterceptor()),
	)
	grpcx.Register(grpcServer, grpcx.NewServer(svc, verifier, cfg.Auth.ReporterKey))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	// --- run both servers ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		healthSrv.Shutdown()

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		grpcServer.GracefulStop()
		return httpSrv.Shutdown(ctxShutdown)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", slog.Any("err", err))
	}
	slog.Info("stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.MeetingRepository, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		return postgres.NewMeetingRepository(db.Pool), db.Close, nil

	case config.BackendDynamoDB:
		client, err := dynamo.NewClient(dynamo.Config{
			Table:           cfg.DynamoDB.Table,
			Region:          cfg.DynamoDB.Region,
			Endpoint:        cfg.DynamoDB.Endpoint,
			AccessKeyID:     cfg.DynamoDB.AccessKeyID,
			SecretAccessKey: cfg.DynamoDB.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dynamodb: %w", err)
		}
		if cfg.DynamoDB.CreateTable {
			if err := dynamo.EnsureTable(ctx, client, cfg.DynamoDB.Table); err != nil {
				return nil, nil, fmt.Errorf("dynamodb table: %w", err)
			}
		}
		return dynamo.NewMeetingRepository(client, cfg.DynamoDB.Table), func() {}, nil

	default:
		db, err := badgerstore.Open(badgerstore.Config{
			Path:           cfg.Badger.Path,
			InMemory:       cfg.Badger.InMemory,
			SyncWrites:     cfg.Badger.SyncWrites,
			Logger:         logger.Component("badger"),
			GCInterval:     cfg.Badger.GCInterval,
			GCDiscardRatio: cfg.Badger.GCDiscardRatio,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("badger: %w", err)
		}
		return badgerstore.NewMeetingRepository(db), func() {
			if err := db.Close(); err != nil {
				slog.Error("badger close", slog.Any("err", err))
			}
		}, nil
	}
}

func newVerifier(cfg config.Auth) (identity.Verifier, error) {
	if cfg.Mode == config.AuthInsecure {
		slog.Warn("auth mode insecure: bearer tokens are taken as subject ids")
		return identity.InsecureVerifier{}, nil
	}

	pub, err := identity.LoadRSAPublicKeyFromPEM(cfg.PublicKeyPath)
	if err != nil {
		return nil, err
	}
	return identity.NewJWTVerifier(pub, cfg.Issuer, cfg.Audience, cfg.ClockSkew), nil
}

func retryPolicy(m config.Meetings) service.RetryPolicy {
	p := service.DefaultRetryPolicy()
	if m.MaxAttempts > 0 {
		p.MaxAttempts = m.MaxAttempts
	}
	if m.CodeAttempts > 0 {
		p.CodeAttempts = m.CodeAttempts
	}
	if m.InitialBackoff > 0 {
		p.InitialBackoff = m.InitialBackoff
	}
	if m.MaxBackoff > 0 {
		p.MaxBackoff = m.MaxBackoff
	}
	return p
}
