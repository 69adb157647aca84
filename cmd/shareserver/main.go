package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/sharetrack/internal/feed"
	ratelimitmw "github.com/example/sharetrack/internal/http/middleware"
	"github.com/example/sharetrack/internal/share"
	"github.com/example/sharetrack/pkg/observability"
)

type appConfig struct {
	HTTPAddr      string
	GRPCAddr      string
	RedisAddr     string
	NATSURL       string
	SubjectPrefix string
	TokenSecret   string
	ShareTTL      time.Duration
	OutboxDrain   time.Duration
	PollRate      float64
	PollBurst     float64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("share-server")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "share-server")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping", zap.Error(err))
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Fatal("nats connect", zap.Error(err))
		}
		defer natsConn.Close()
	}

	store := share.NewStore(redisClient, cfg.ShareTTL)
	publisher := share.NewPublisher(natsConn, cfg.SubjectPrefix)
	outbox := share.NewOutbox(redisClient, publisher, logger.Named("outbox"))
	go func() {
		if err := outbox.Run(ctx, cfg.OutboxDrain); err != nil && ctx.Err() == nil {
			logger.Warn("outbox stopped", zap.Error(err))
		}
	}()

	if natsConn != nil {
		responder := share.NewResponder(natsConn, store, cfg.SubjectPrefix, logger.Named("responder"))
		if err := responder.Start(); err != nil {
			logger.Fatal("responder start", zap.Error(err))
		}
		defer responder.Close()
	}

	handler := share.NewHandler(share.HandlerConfig{
		Store:       store,
		Outbox:      outbox,
		Logger:      logger.Named("api"),
		TokenSecret: cfg.TokenSecret,
	})
	limiter := ratelimitmw.NewPollLimiter(redisClient, ratelimitmw.RateConfig{
		Rate:  cfg.PollRate,
		Burst: cfg.PollBurst,
	})

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}))
	if limiter != nil {
		r.Mount("/", handler.Router(limiter.Middleware))
	} else {
		r.Mount("/", handler.Router())
	}

	go runGRPC(logger, cfg.GRPCAddr, store, outbox)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("share server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func runGRPC(logger *zap.Logger, addr string, store *share.Store, outbox *share.Outbox) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}
	srv := grpc.NewServer()
	ingestor := feed.NewIngestor(store, outbox, logger.Named("feed"))
	feed.RegisterPositionFeedServer(srv, feed.NewServer(ingestor, logger.Named("feed")))
	logger.Info("position feed listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("grpc serve", zap.Error(err))
	}
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:      getenv("GRPC_ADDR", ":9090"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		NATSURL:       os.Getenv("NATS_URL"),
		SubjectPrefix: getenv("SUBJECT_PREFIX", "track"),
		TokenSecret:   getenv("TOKEN_SECRET", "dev-secret"),
		ShareTTL:      parseDurationEnv("SHARE_TTL", 24*time.Hour),
		OutboxDrain:   parseDurationEnv("OUTBOX_DRAIN_INTERVAL", 250*time.Millisecond),
		PollRate:      parseFloatEnv("POLL_RATE_RPS", 2),
		PollBurst:     parseFloatEnv("POLL_RATE_BURST", 10),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
