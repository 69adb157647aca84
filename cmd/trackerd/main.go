// trackerd follows one share from the command line: it connects the push
// channel, initializes a tracking session and logs every update until the
// delivery ends.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/sharetrack/internal/rest"
	"github.com/example/sharetrack/internal/routing"
	"github.com/example/sharetrack/internal/tracking"
	"github.com/example/sharetrack/internal/transport/natschan"
	"github.com/example/sharetrack/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("trackerd")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "trackerd")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	shareUUID := os.Getenv("SHARE_UUID")
	if shareUUID == "" {
		logger.Fatal("SHARE_UUID is required")
	}
	baseURL := getenv("SHARE_SERVER_URL", "http://localhost:8080")
	subjectPrefix := getenv("SUBJECT_PREFIX", "track")

	var channel tracking.Channel
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		conn, err := nats.Connect(natsURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Fatal("nats connect", zap.Error(err))
		}
		defer conn.Close()
		channel = natschan.New(conn, natschan.Config{
			Prefix: subjectPrefix + "." + shareUUID,
			Logger: logger.Named("channel"),
		})
	} else {
		logger.Warn("no NATS_URL, running pull-only")
	}

	var oracle tracking.Oracle = routing.HaversineOracle{}
	if matrixURL := os.Getenv("MATRIX_URL"); matrixURL != "" {
		oracle = routing.NewMatrixOracle(matrixURL, &http.Client{Timeout: 10 * time.Second}, logger.Named("matrix"))
	}

	session := tracking.New(tracking.Options{
		Channel: channel,
		Backend: rest.NewClient(baseURL, rest.WithLogger(logger.Named("rest"))),
		Oracle:  oracle,
		Logger:  logger.Named("session"),
	})

	done := make(chan struct{})
	session.SetCallbacks(tracking.Callbacks{
		OnConnect:    func() { logger.Info("channel connected") },
		OnDisconnect: func() { logger.Info("channel disconnected") },
		OnOrderUpdate: func(order *tracking.Order) {
			logger.Info("order update", zap.String("uuid", order.UUID), zap.Int("status", order.Status))
		},
		OnLocationUpdate: func(point tracking.GeoPoint) {
			logger.Debug("driver moved", zap.Float64("lat", point.Lat), zap.Float64("lng", point.Lng))
		},
		OnETAUpdate: func(minutes *int) {
			if minutes == nil {
				logger.Info("eta unknown")
				return
			}
			logger.Info("eta update", zap.Int("minutes", *minutes))
		},
		OnDriverArrived: func() { logger.Info("driver arrived") },
		OnDriverLeft:    func() { logger.Info("driver left, rating available"); close(done) },
		OnTaskEnded:     func() { logger.Info("task ended"); close(done) },
		OnFailedLoading: func(err error) { logger.Error("share load failed", zap.Error(err)) },
	})

	session.Initialize(tracking.InitParams{
		Token:               os.Getenv("DEVELOPER_TOKEN"),
		CustomerAccessToken: os.Getenv("CUSTOMER_ACCESS_TOKEN"),
		ShareUUID:           shareUUID,
		OrderUUID:           os.Getenv("ORDER_UUID"),
	}, func(cfg *tracking.SharedConfig) {
		logger.Info("share loaded",
			zap.String("order_uuid", cfg.OrderUUID),
			zap.String("driver_uuid", cfg.DriverUUID))
	})

	select {
	case <-ctx.Done():
	case <-done:
	}
	session.Disconnect()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
