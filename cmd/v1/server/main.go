package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/adminapi"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/auth"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/bus"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/config"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/federation"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/health"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/identity"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/locale"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/middleware"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/ratelimit"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/replay"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/server"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/session"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/tracing"
)

// gossipInterval is how often this server announces its rooms to peers.
const gossipInterval = 15 * time.Second

// tokenSecret picks the JWT signing secret. Without a configured admin token
// a random per-process secret is used, which invalidates minted tokens on
// restart but never leaves them forgeable.
func tokenSecret(cfg *config.Config) string {
	if cfg.AdminToken != "" {
		return cfg.AdminToken
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		logging.Fatal(context.Background(), "secret generation failed", zap.Error(err))
	}
	return hex.EncodeToString(raw)
}

func main() {
	// Load .env for local development; in production everything comes from
	// the real environment.
	for _, path := range []string{".env", "../../../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.LogLevel, cfg.Development); err != nil {
		slog.Error("logger initialization failed", "error", err)
		os.Exit(1)
	}
	logging.SetTestAccounts(cfg.TestAccounts)
	locale.SetDefault(cfg.Language)
	ctx := context.Background()

	// --- Tracing (optional) ---
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, "phira-mp", cfg.OTLPEndpoint)
		if err != nil {
			logging.Warn(ctx, "tracing disabled", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Game registry ---
	state := game.NewState(game.Options{
		RoomMaxUsers:  cfg.RoomMaxUsers,
		ReplayEnabled: cfg.ReplayEnabled,
		Monitors:      cfg.Monitors,
		AdminDataPath: cfg.AdminDataPath,
	})

	// --- Redis bus (optional) ---
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "redis unavailable, running in single-instance mode", zap.Error(err))
			busService = nil
		}
	} else {
		logging.Info(ctx, "running in single-instance mode (redis disabled)")
	}

	// --- Upstream identity service ---
	identityClient := identity.NewClient(cfg.HTTPService)

	// --- Rate limits ---
	limits, err := ratelimit.NewCommandLimiters(cfg, busService.Client())
	if err != nil {
		logging.Fatal(ctx, "rate limiter configuration invalid", zap.Error(err))
	}

	// --- Federation ---
	bgCtx, bgCancel := context.WithCancel(ctx)
	var bgWG sync.WaitGroup

	var fedService *federation.Service
	var ticketConsumer session.TicketConsumer
	if cfg.FedSecret != "" {
		fedService = federation.NewService(cfg.FedSecret,
			cfg.FedPeers,
			federation.NewTicketStore(),
			federation.NewRemoteRoomCache(state.RegisterRemoteMirror, state.DropRemoteMirror),
		)
		fedService.Tickets().StartSweeper(bgCtx, &bgWG)
		fedService.Cache().StartSweeper(bgCtx, &bgWG)
		ticketConsumer = fedService.Tickets()

		if busService != nil {
			busService.SubscribeRooms(bgCtx, cfg.ServerName, &bgWG, fedService.Cache().Apply)
			bgWG.Add(1)
			go func() {
				defer bgWG.Done()
				ticker := time.NewTicker(gossipInterval)
				defer ticker.Stop()
				for {
					select {
					case <-bgCtx.Done():
						return
					case <-ticker.C:
						ann := bus.RoomAnnouncement{Server: cfg.ServerName, Rooms: state.RoomSnapshots()}
						if err := busService.PublishRooms(bgCtx, ann); err != nil {
							logging.Warn(bgCtx, "room gossip publish failed", zap.Error(err))
						}
					}
				}
			}()
		}
	} else {
		logging.Info(ctx, "federation disabled (no FED_SECRET)")
	}

	// --- Replay recorder + admin surface ---
	recorder := replay.NewRecorder(cfg.ReplayDir, cfg.ReplayEnabled)
	recorder.StartCleanupSweeper(bgCtx, &bgWG, replay.DefaultRetention)

	tokens := auth.NewIssuer(tokenSecret(cfg))
	adminHandler := adminapi.NewHandler(state, recorder, tokens, identityClient, cfg.AdminToken)
	adminHandler.SetRoomListTip(cfg.RoomListTip)
	adminHandler.Hub().Run(bgCtx, &bgWG)
	if fedService != nil {
		adminHandler.SetFederation(fedService)
	}

	state.SetHooks(game.Hooks{
		OnGameEnd:    recorder.OnGameEnd,
		OnRoomUpdate: adminHandler.Hub().RoomUpdated,
		OnRoomDelete: adminHandler.Hub().RoomDeleted,
	})

	// --- HTTP router: admin, federation, metrics, health ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID(), middleware.RequestLogger())
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, adminapi.AdminTokenHeader, middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsCfg))
	if cfg.OTLPEndpoint != "" {
		router.Use(otelgin.Middleware("phira-mp"))
	}
	router.Use(limits.AdminMiddleware())

	adminHandler.RegisterRoutes(router)
	if fedService != nil {
		fedService.RegisterRoutes(router)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(busService, health.NewIdentityChecker(cfg.HTTPService))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	httpSrv := &http.Server{
		Addr:    cfg.Host + ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: router,
	}
	go func() {
		logging.Info(ctx, "admin server starting", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "admin server failed", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// --- TCP game server ---
	gameSrv, err := server.Listen(cfg.Host+":"+strconv.Itoa(cfg.Port), session.Deps{
		State:    state,
		Identity: identityClient,
		Charts:   identityClient,
		Records:  identityClient,
		Tickets:  ticketConsumer,
		Limits:   limits,
	})
	if err != nil {
		logging.Fatal(ctx, "game server listen failed", zap.Error(err))
	}
	gameSrv.Start(ctx)

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gameSrv.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "admin server forced to shut down", zap.Error(err))
	}

	bgCancel()
	bgWG.Wait()

	if busService != nil {
		if err := busService.Close(); err != nil {
			logging.Error(ctx, "redis close failed", zap.Error(err))
		}
	}
	logging.Info(ctx, "server exited")
}
