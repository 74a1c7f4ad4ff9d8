// Command gateway is the realtimecore process entrypoint: it wires every
// domain-stack component (subject registry, broker, presence, chat router,
// delivery, forwarder, health monitor, cleaner, transport hub) into one
// running server and serves WebSocket connections plus liveness/readiness
// probes over gin.
//
// Grounded on cmd/v1/session/main.go's overall shape (dotenv load, gin
// router + CORS + Recovery, Prometheus /metrics, signal-driven graceful
// shutdown), generalized from that file's single-hub wiring to the full
// component graph spec.md §5 describes. On SIGINT/SIGTERM it stops
// accepting new HTTP requests, waits for the cleaner and health monitor to
// return, then closes the forwarder's subscriptions, the broker and the DLQ
// through deferred calls. No shutdown notice is sent to connected players
// and in-flight broadcasts are not waited for.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mythosmud/realtimecore/internal/v1/auth"
	"github.com/mythosmud/realtimecore/internal/v1/broker"
	"github.com/mythosmud/realtimecore/internal/v1/chat"
	"github.com/mythosmud/realtimecore/internal/v1/cleaner"
	"github.com/mythosmud/realtimecore/internal/v1/config"
	"github.com/mythosmud/realtimecore/internal/v1/delivery"
	"github.com/mythosmud/realtimecore/internal/v1/dlq"
	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/eventbus"
	"github.com/mythosmud/realtimecore/internal/v1/forwarder"
	"github.com/mythosmud/realtimecore/internal/v1/health"
	"github.com/mythosmud/realtimecore/internal/v1/logging"
	"github.com/mythosmud/realtimecore/internal/v1/middleware"
	"github.com/mythosmud/realtimecore/internal/v1/mute"
	"github.com/mythosmud/realtimecore/internal/v1/ports"
	"github.com/mythosmud/realtimecore/internal/v1/presence"
	"github.com/mythosmud/realtimecore/internal/v1/ratelimit"
	"github.com/mythosmud/realtimecore/internal/v1/subject"
	"github.com/mythosmud/realtimecore/internal/v1/tracing"
	"github.com/mythosmud/realtimecore/internal/v1/transport"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// noMuteSource is the default ports.MuteSource when no persistence layer
// is configured: nobody has muted anybody. Real deployments supply their
// own adapter per spec.md §6 "accessed through the interfaces in §6".
type noMuteSource struct{}

func (noMuteSource) LoadMutes(ctx context.Context, receivers []domain.PlayerID) (map[domain.PlayerID]ports.MuteSet, error) {
	out := make(map[domain.PlayerID]ports.MuteSet, len(receivers))
	for _, r := range receivers {
		out[r] = ports.MuteSet{}
	}
	return out, nil
}

// nameDirectory resolves a display name to a player id by scanning the
// Connection Registry's live connections. Whisper targeting only needs to
// resolve online players, so no persistence-backed directory is required.
type nameDirectory struct {
	registry *presence.Registry
}

func (d *nameDirectory) resolve(ctx context.Context, name string) (domain.PlayerID, bool) {
	for _, c := range d.registry.IterAll() {
		if strings.EqualFold(c.DisplayName, name) {
			return c.PlayerID, true
		}
	}
	return "", false
}

// noSubzoneRooms reports that no room belongs to any sub-zone, since
// sub-zone membership is persistence-backed and out of this module's
// scope per spec.md §6.
func noSubzoneRooms(ctx context.Context, subzone domain.SubzoneID) ([]domain.RoomID, error) {
	return nil, nil
}

func main() {
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		// logging isn't initialized yet; this is the one place stdlib
		// log output is appropriate since config failed before we have a
		// logger.
		println("configuration error:", err.Error())
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		println("failed to initialize logger:", err.Error())
		os.Exit(1)
	}
	logger := logging.GetLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing (optional: only when an OTLP collector is configured) ---
	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "realtimecore-gateway", collectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize tracer", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Auth ---
	var validator ports.TokenValidator
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication disabled (SKIP_AUTH=true); do not use in production")
		validator = auth.NewMockPortValidator()
	} else {
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			logging.Fatal(ctx, "AUTH0_DOMAIN and AUTH0_AUDIENCE must be set when SKIP_AUTH=false")
		}
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize auth validator", zap.Error(err))
		}
		validator = auth.NewPortValidator(v)
	}

	// --- Subject Registry (C1) ---
	subjectRegistry := subject.NewRegistry(cfg.BrokerStrictSubjectValidation)

	// --- Dead Letter Queue (C5) ---
	deadLetter, err := dlq.Open("broker_dlq.jsonl")
	if err != nil {
		logging.Fatal(ctx, "failed to open dead letter store", zap.Error(err))
	}
	defer deadLetter.Close()

	// --- Broker Client (C2, wraps Retry C3 and Circuit Breaker C4) ---
	var brokerRegistry *subject.Registry
	if cfg.BrokerEnableSubjectValidation {
		brokerRegistry = subjectRegistry
	}
	brokerClient, err := broker.New(ctx, broker.Config{
		Addr:             cfg.BrokerURL,
		Password:         cfg.RedisPassword,
		HealthTimeout:    cfg.BrokerHealthTimeout,
		BreakerThreshold: cfg.BreakerFailureThreshold,
		BreakerOpenFor:   cfg.BreakerOpenDuration,
		Registry:         brokerRegistry,
		DeadLetter:       deadLetter,
	})
	if err != nil {
		logging.Fatal(ctx, "failed to connect to broker", zap.Error(err))
	}
	defer brokerClient.Close()

	// --- Event Bus (C6) and Connection Registry (C7) ---
	bus := eventbus.New()
	registry := presence.NewRegistry(bus, cfg.ConnectionGracePeriod)

	// --- Rate Limiter (C11) ---
	limiter, err := ratelimit.New(ratelimit.Config{
		DefaultFormatted: formatRate(cfg.RateLimitMaxEvents, cfg.RateLimitWindow),
	}, nil)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	// --- Mute Store (C12) ---
	mutes := mute.New(noMuteSource{}, 4096, cfg.MuteCacheTTL)

	// --- Chat Router (C13) ---
	names := &nameDirectory{registry: registry}
	channels := []chat.ChannelDescriptor{
		{ID: "room", Scope: chat.ScopeRoom, MaxLength: 512, SelfEcho: true, SubjectKind: subject.KindChatRoom},
		{ID: "local", Scope: chat.ScopeSubzone, MaxLength: 512, SelfEcho: true, SubjectKind: subject.KindChatLocal},
		{ID: "global", Scope: chat.ScopeGlobal, MaxLength: 256, SelfEcho: true, SubjectKind: subject.KindChatGlobal},
		{ID: "whisper", Scope: chat.ScopeWhisper, MaxLength: 512, SelfEcho: false, SubjectKind: subject.KindChatWhisper},
		{ID: "system", Scope: chat.ScopeSystem, MaxLength: 1024, AdminOnly: true, SelfEcho: true, SubjectKind: subject.KindChatSystem},
	}
	chatRouter := chat.New(channels, chat.Config{
		Broker:      brokerClient,
		Rates:       limiter,
		Registry:    subjectRegistry,
		Bus:         bus,
		Presence:    registry,
		ResolveZone: noSubzoneRooms,
		ResolveName: names.resolve,
	})

	// --- Delivery: Personal Sender (C9) and Broadcaster (C10) ---
	// The Sender needs an OutboxLookup, but the only thing that can resolve
	// a connection id to its live transport is the Hub's connection index,
	// and the Hub itself needs this Sender. hubRef breaks the cycle: the
	// closure captures it by reference and the Hub is assigned into it
	// right after construction, before any request can reach ServeWs.
	var hubRef *transport.Hub
	sender := delivery.NewSender(registry, func(id domain.ConnID) (delivery.Outbox, bool) {
		return hubRef.OutboxLookup(id)
	})
	broadcaster := delivery.NewBroadcaster(registry, sender)

	// Presence transitions (spec.md §4 "other players in the room/subzone
	// must learn of an entry/exit/move) have no broker round trip of their
	// own, so the Broadcaster delivers them straight off the local bus. Chat
	// delivery does NOT subscribe here: it already reaches every recipient
	// (including same-node ones) through the Broker -> Wire Forwarder below,
	// and adding a second local path here would double-deliver every
	// message.
	for _, kind := range []domain.Kind{domain.KindPlayerEntered, domain.KindPlayerLeft, domain.KindRoomUpdated} {
		bus.Subscribe(kind, func(ctx context.Context, evt domain.Event) error {
			broadcaster.BroadcastToRoom(ctx, evt.RoomID, evt, evt.PlayerID)
			return nil
		}, time.Second)
	}

	// --- Broker -> Wire Forwarder (C15) ---
	fwd := forwarder.New(brokerClient, registry, mutes, sender, deadLetter, chatRouter)
	if err := fwd.SubscribeStatic(ctx); err != nil {
		logging.Fatal(ctx, "failed to subscribe forwarder", zap.Error(err))
	}
	defer fwd.Close()

	// Dynamic per-room combat.{room_id} subscriptions (spec.md §4.15) track
	// room occupancy: the first occupant entering a room opens the
	// subscription, the last one leaving closes it.
	registry.SetRoomHooks(presence.RoomSubscriptionHooks{
		OnFirstOccupant: func(ctx context.Context, room domain.RoomID) {
			if err := fwd.SubscribeRoom(ctx, room); err != nil {
				logging.Warn(ctx, "failed to subscribe room", zap.String("room_id", string(room)), zap.Error(err))
			}
		},
		OnEmptied: fwd.UnsubscribeRoom,
	})

	// --- Health Monitor (C8) ---
	monitor := health.New(transport.NewHealthRegistry(registry), validator, health.Config{
		PingInterval:      cfg.HealthPingInterval,
		PongTimeout:       cfg.HealthPongTimeout,
		StaleStrikes:      cfg.HealthStaleStrikes,
		RevalidationEvery: 5 * time.Minute,
	})

	// --- Transport Hub (C7 HTTP surface) ---
	hub := transport.NewHub(transport.Config{
		Registry:      registry,
		Validator:     validator,
		ChatRouter:    chatRouter,
		Sender:        sender,
		OutboundQueue: cfg.ConnectionOutboundQueueSize,
		CheckOrigin:   corsOriginChecker(cfg.AllowedOrigins),
	})
	hubRef = hub

	// --- Cleaner (C16) ---
	sweeper := cleaner.New(
		transport.NewCleanerRegistry(registry),
		hub.TransportProbe,
		deadLetter,
		brokerBreakerAdapter{brokerClient},
		cfg.CleanerInterval,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); monitor.Run(ctx) }()
	go func() { defer wg.Done(); sweeper.Run(ctx) }()

	// --- HTTP server ---
	healthHandler := health.NewHandler(map[string]health.DependencyChecker{
		"broker": &health.PingChecker{Ping: brokerClient.Ping},
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("realtimecore-gateway"))
	router.Use(middleware.CorrelationID())
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	router.Use(cors.New(corsCfg))

	router.GET("/ws", func(c *gin.Context) { hub.ServeWs(c.Writer, c.Request) })
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutdown signal received, draining")

	// Shutdown: stop accepting new HTTP requests, wait for the background
	// sweepers (already stopped by ctx), then the deferred calls close the
	// forwarder, the broker and the DLQ. In-flight broadcasts are not
	// waited for and no shutdown notice is sent.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "server forced to shutdown", zap.Error(err))
	}
	wg.Wait()
	logging.Info(context.Background(), "gateway exited cleanly")
}

// brokerBreakerAdapter satisfies cleaner.Broker over *broker.Client.
type brokerBreakerAdapter struct {
	c *broker.Client
}

func (a brokerBreakerAdapter) Publish(ctx context.Context, subj string, payload []byte) error {
	return a.c.Publish(ctx, subj, payload)
}

func (a brokerBreakerAdapter) BreakerOpen() bool {
	return a.c.BreakerOpen()
}

// formatRate turns a (count, window) pair into the ulule/limiter
// formatted-rate syntax the Rate Limiter (C11) expects, e.g. "20-M".
func formatRate(count int, window time.Duration) string {
	n := strconv.Itoa(count)
	switch {
	case window <= time.Second:
		return n + "-S"
	case window <= time.Minute:
		return n + "-M"
	case window <= time.Hour:
		return n + "-H"
	default:
		return n + "-D"
	}
}

// corsOriginChecker builds a gorilla/websocket CheckOrigin func from a
// comma-separated allow-list, matching the ALLOWED_ORIGINS
// convention. An empty list falls back to allowing same-origin requests
// only implicitly permitted by the browser's own same-origin policy.
func corsOriginChecker(allowedOrigins string) func(r *http.Request) bool {
	if allowedOrigins == "" {
		return nil
	}
	allowed := strings.Split(allowedOrigins, ",")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.TrimSpace(o) == origin {
				return true
			}
		}
		return false
	}
}
