package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"roomcast-cloud/internal/audit"
	"roomcast-cloud/internal/auth"
	commandsapp "roomcast-cloud/internal/commands/application"
	commandsevents "roomcast-cloud/internal/commands/application/events"
	commandsrepo "roomcast-cloud/internal/commands/infrastructure/postgres"
	commandshttp "roomcast-cloud/internal/commands/interfaces/http"
	devicesapp "roomcast-cloud/internal/devices/application"
	devicesrepo "roomcast-cloud/internal/devices/infrastructure/postgres"
	deviceshttp "roomcast-cloud/internal/devices/interfaces/http"
	dispatchapp "roomcast-cloud/internal/dispatch/application"
	dispatchhttp "roomcast-cloud/internal/dispatch/interfaces/http"
	"roomcast-cloud/internal/eventing"
	"roomcast-cloud/internal/eventing/eventbus"
	eventingrepo "roomcast-cloud/internal/eventing/infrastructure/postgres"
	"roomcast-cloud/internal/observability/metrics"
	receiptsrepo "roomcast-cloud/internal/receipts/infrastructure/postgres"
	"roomcast-cloud/internal/reporting"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	deviceChecker := auth.NewDeviceChecker(db)
	auditRepo := audit.NewRepository(db)

	commandRepo := commandsrepo.NewCommandRepository(db)
	receiptRepo := receiptsrepo.NewReceiptRepository(db)
	deviceRepo := devicesrepo.NewDeviceRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(commandsevents.CommandIssued{})
	registry.Register(commandsevents.CommandAcknowledged{})
	registry.Register(commandsevents.CommandExpired{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, cfg.TenantID, baseBus)

	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.CommandIssued](), "commands.issued.log", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandIssued)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("command issued: device=%s command=%s type=%s", evt.DeviceID, evt.CommandID, evt.CommandType)
		return nil
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.CommandAcknowledged](), "commands.acked.log", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandAcknowledged)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("command resolved: device=%s command=%s status=%s", evt.DeviceID, evt.CommandID, evt.Status)
		return nil
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.CommandAcknowledged](), "commands.acked.metrics", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandAcknowledged)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		metrics.IncAckResult(evt.Status)
		return nil
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.CommandExpired](), "commands.expired.log", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandExpired)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("command expired: device=%s command=%s", evt.DeviceID, evt.CommandID)
		return nil
	}, processedStore)

	dispatchCfg, err := dispatchapp.LoadConfig()
	if err != nil {
		logger.Fatalf("dispatch config error: %v", err)
	}
	dispatchService, err := dispatchapp.NewService(commandRepo, deviceRepo, dispatchCfg, publisher, dispatchapp.SystemClock{}, logger)
	if err != nil {
		logger.Fatalf("dispatch service error: %v", err)
	}

	lifecycleService, err := commandsapp.NewService(commandRepo, receiptRepo, deviceRepo, publisher, nil, logger)
	if err != nil {
		logger.Fatalf("command service error: %v", err)
	}
	commandHandler, err := commandshttp.NewHandler(lifecycleService, deviceChecker, auditRepo)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}
	receiptsHandler, err := commandshttp.NewReceiptsHandler(lifecycleService)
	if err != nil {
		logger.Fatalf("receipts handler error: %v", err)
	}

	fleetService, err := devicesapp.NewService(deviceRepo, cfg.OfflineAfter, nil)
	if err != nil {
		logger.Fatalf("fleet service error: %v", err)
	}
	fleetHandler, err := deviceshttp.NewHandler(fleetService)
	if err != nil {
		logger.Fatalf("fleet handler error: %v", err)
	}

	deviceHandler, err := dispatchhttp.NewHandler(dispatchService, lifecycleService)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}

	exportHandler, err := reporting.NewHandler(receiptRepo, fleetService)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/api/v1/device/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	deviceAuth := auth.NewDeviceAuthMiddleware([]byte(cfg.DeviceSecret), time.Duration(cfg.DeviceSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/device/commands/pull", deviceAuth.Wrap(http.HandlerFunc(deviceHandler.PullCommands)))
	mux.Handle("/api/v1/device/commands/ack", deviceAuth.Wrap(http.HandlerFunc(deviceHandler.Acknowledge)))
	mux.Handle("/api/v1/device/heartbeat", deviceAuth.Wrap(http.HandlerFunc(deviceHandler.Heartbeat)))
	mux.Handle("/api/v1/commands", commandHandler)
	mux.Handle("/api/v1/commands/receipts", receiptsHandler)
	mux.Handle("/api/v1/fleet/devices", fleetHandler)
	mux.HandleFunc("/api/v1/exports/receipts.xlsx", exportHandler.ReceiptsXLSX)
	mux.HandleFunc("/api/v1/exports/fleet.pdf", exportHandler.FleetPDF)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Device-Timestamp", "X-Device-Signature"},
		AllowCredentials: true,
	})

	handler := loggingMiddleware(corsWrapper.Handler(authMiddleware.Wrap(mux)), logger)
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	TenantID          string
	JWTSecret         string
	DeviceSecret      string
	DeviceSkewSeconds int
	OfflineAfter      time.Duration
	CORSOrigins       []string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:          getenvDefault("TENANT_ID", "hotel-demo"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		DeviceSecret:      getenvDefault("DEVICE_HMAC_SECRET", ""),
		DeviceSkewSeconds: getenvIntDefault("DEVICE_MAX_SKEW_SECONDS", 300),
		OfflineAfter:      getenvDuration("FLEET_OFFLINE_AFTER", devicesapp.DefaultOfflineAfter),
		CORSOrigins:       []string{getenvDefault("CORS_ORIGIN", "http://localhost:5173")},
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	if cfg.DeviceSecret == "" {
		log.Fatal("DEVICE_HMAC_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
