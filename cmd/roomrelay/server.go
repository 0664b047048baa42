package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	httphandlers "roomrelay/internal/handlers/http"
	"roomrelay/internal/infrastructure/distributed"
	"roomrelay/internal/infrastructure/middleware"
	"roomrelay/internal/infrastructure/monitoring"
	"roomrelay/internal/infrastructure/repositories"
	"roomrelay/internal/infrastructure/signal"
	"roomrelay/pkg/config"
	"roomrelay/pkg/logger"
	"roomrelay/pkg/tracing"
	"roomrelay/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	instanceID := cfg.Events.InstanceID
	if instanceID == "" {
		instanceID = utils.GenerateID("relay")
	}

	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("Error closing repository factory", "error", err)
		}
	}()
	rooms := repoFactory.CreateRoomRepository()

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	dir := services.NewDirectory(metrics, log)

	g, gctx := errgroup.WithContext(ctx)

	var (
		events  ports.EventPublisher
		stopBus func(context.Context) error
	)
	if client := repoFactory.RedisClient(); client != nil {
		bus := distributed.NewEventBus(client, cfg.Events.Channel, instanceID, cfg.Events.QueueSize, log)
		events = bus
		stopBus = bus.Start()
		g.Go(func() error {
			return bus.Subscribe(gctx, func(e domain.RoomEvent) {
				log.Debugw("Remote room event",
					"type", e.Type,
					"room_id", e.RoomID,
					"participant_id", e.ParticipantID,
					"instance", e.Instance,
				)
			})
		})
	}

	roomService := services.NewRoomService(rooms, dir, events, metrics, services.RoomServiceConfig{
		MaxMessageLength: cfg.Rooms.MaxMessageLength,
		AutoCreate:       cfg.Rooms.AutoCreate,
		StrictInvariants: cfg.Rooms.StrictInvariants,
		InstanceID:       instanceID,
	}, log)
	relay := services.NewRelayService(dir, metrics, log)

	wsConfig := signal.ServerConfigFrom(cfg)
	wsConfig.NewLimiter = func() *rate.Limiter { return middleware.NewMessageLimiter(cfg) }
	wsServer := signal.NewWebSocketServer(roomService, relay, dir, metrics, wsConfig, log)

	checker := monitoring.NewHealthChecker()
	checker.AddRepositoryCheck(rooms, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, 2*time.Second)
	}
	checker.AddCapacityCheck(dir, cfg.Signal.MaxConnections)

	router := newRouter(cfg, log, roomService, checker, wsServer)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		log.Infow("Starting roomrelay",
			"address", cfg.Server.Address,
			"ws_path", cfg.Signal.Path,
			"room_mode", cfg.Rooms.Mode,
			"instance", instanceID,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down roomrelay...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		shutdown(shutdownCtx, log, wsServer, srv, stopBus, tp)
		return nil
	})

	err = g.Wait()
	log.Info("roomrelay stopped")
	return err
}

// wsDrainer is the part of the websocket server shutdown needs.
type wsDrainer interface {
	Shutdown(ctx context.Context) error
	ConnectionCount() int
}

// shutdown stops components in dependency order. Websocket clients go first:
// every disconnect publishes room events, so the event bus is stopped only
// after they are gone. stopBus is nil when redis is unavailable.
func shutdown(ctx context.Context, log *zap.SugaredLogger, ws wsDrainer, srv *http.Server, stopBus func(context.Context) error, tp *tracing.Provider) {
	// Hijacked websocket connections are not tracked by http.Server.
	if err := ws.Shutdown(ctx); err != nil {
		log.Warnw("Websocket connections did not drain", "error", err, "remaining", ws.ConnectionCount())
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		_ = srv.Close()
	}
	if stopBus != nil {
		if err := stopBus(ctx); err != nil {
			log.Warnw("Event bus did not flush", "error", err)
		}
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}
}

func newRouter(
	cfg *config.Config,
	log *zap.SugaredLogger,
	roomService ports.RoomService,
	checker *monitoring.HealthChecker,
	wsServer *signal.WebSocketServer,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))

	rateLimit := middleware.NewHTTPRateLimitMiddleware(cfg)

	httphandlers.NewHealthHandler(checker).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/", rateLimit, middleware.TracingMiddleware(), middleware.ErrorHandlerMiddleware(log))
	httphandlers.NewRoomHandler(roomService).SetupRoutes(api)

	router.GET(cfg.Signal.Path, rateLimit, gin.WrapF(wsServer.HandleWebSocket))
	return router
}
