// Package engine wires the fleet subsystem together: the record store, the
// message bus, the command/telemetry/maintenance components and the HTTP
// and gRPC surfaces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/api"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/bus"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/dispatch"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/faults"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/ingest"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/live"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/maintenance"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// Bus transports
const (
	TransportMQTT = "mqtt"
	TransportZMQ  = "zmq"
)

// BusConfig selects and configures the broker transport
type BusConfig struct {
	Transport      string
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	PublishTimeout time.Duration
	ControlTopic   string
	TelemetryTopic string
	ZMQEventURL    string
	ZMQCommandURL  string
}

// Config holds engine configuration
type Config struct {
	DatabasePath        string
	HTTPAddr            string
	GRPCAddr            string // empty disables the gRPC health server
	Bus                 BusConfig
	ConnectTimeout      time.Duration
	DispatchConcurrency int
	TelemetryRetention  time.Duration // 0 disables pruning
	PruneInterval       time.Duration
	StatusInterval      time.Duration
	DefaultSeverity     fleet.Severity
	Logger              *slog.Logger
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	mq := bus.DefaultMQTTConfig()
	zq := bus.DefaultZMQConfig()
	return Config{
		DatabasePath: "/var/lib/streetlight/fleet.db",
		HTTPAddr:     ":8080",
		GRPCAddr:     ":9090",
		Bus: BusConfig{
			Transport:      TransportMQTT,
			Broker:         mq.Broker,
			ClientID:       mq.ClientID,
			QoS:            mq.QoS,
			PublishTimeout: mq.PublishTimeout,
			ControlTopic:   "streetlight/control",
			TelemetryTopic: "streetlight/telemetry",
			ZMQEventURL:    zq.EventURL,
			ZMQCommandURL:  zq.CommandURL,
		},
		ConnectTimeout:      15 * time.Second,
		DispatchConcurrency: 16,
		TelemetryRetention:  90 * 24 * time.Hour,
		PruneInterval:       time.Hour,
		StatusInterval:      5 * time.Second,
		DefaultSeverity:     fleet.SeverityMedium,
	}
}

// Engine owns the long-lived components of one service instance
type Engine struct {
	config Config
	log    *slog.Logger

	db          *storage.DB
	bus         bus.Client
	faults      *faults.Service
	hub         *live.Hub
	ingestor    *ingest.Ingestor
	dispatcher  *dispatch.Dispatcher
	maintenance *maintenance.Manager
	health      *health.Server

	httpServer *http.Server
	grpcServer *grpc.Server
	httpAddr   net.Addr
	grpcAddr   net.Addr

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New opens the store and builds every component. The bus transport is
// chosen by config.Bus.Transport.
func New(config Config) (*Engine, error) {
	client, err := newBusClient(config)
	if err != nil {
		return nil, err
	}
	return newEngine(config, client)
}

func newBusClient(config Config) (bus.Client, error) {
	switch config.Bus.Transport {
	case TransportMQTT, "":
		mc := bus.DefaultMQTTConfig()
		mc.Broker = config.Bus.Broker
		mc.ClientID = config.Bus.ClientID
		mc.Username = config.Bus.Username
		mc.Password = config.Bus.Password
		mc.QoS = config.Bus.QoS
		if config.Bus.PublishTimeout > 0 {
			mc.PublishTimeout = config.Bus.PublishTimeout
		}
		mc.Logger = config.Logger
		return bus.NewMQTTClient(mc), nil
	case TransportZMQ:
		zc := bus.DefaultZMQConfig()
		zc.EventURL = config.Bus.ZMQEventURL
		zc.CommandURL = config.Bus.ZMQCommandURL
		if config.Bus.PublishTimeout > 0 {
			zc.PublishTimeout = config.Bus.PublishTimeout
		}
		zc.Logger = config.Logger
		return bus.NewZMQClient(zc), nil
	}
	return nil, fmt.Errorf("unknown bus transport %q", config.Bus.Transport)
}

func newEngine(config Config, client bus.Client) (*Engine, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := storage.Open(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	fc := faults.DefaultConfig()
	if config.DefaultSeverity != "" {
		fc.DefaultSeverity = config.DefaultSeverity
	}
	fc.Logger = logger
	faultSvc := faults.New(fc, db)

	hub := live.NewHub(logger)

	ic := ingest.DefaultConfig()
	ic.Logger = logger
	ingestor := ingest.New(ic, db, faultSvc, hub)

	dc := dispatch.DefaultConfig()
	if config.Bus.ControlTopic != "" {
		dc.ControlTopic = config.Bus.ControlTopic
	}
	if config.DispatchConcurrency > 0 {
		dc.Concurrency = config.DispatchConcurrency
	}
	dc.Logger = logger
	dispatcher := dispatch.New(dc, db, client)

	mc := maintenance.DefaultConfig()
	mc.Logger = logger
	manager := maintenance.New(mc, db)

	e := &Engine{
		config:      config,
		log:         logger.With("component", "engine"),
		db:          db,
		bus:         client,
		faults:      faultSvc,
		hub:         hub,
		ingestor:    ingestor,
		dispatcher:  dispatcher,
		maintenance: manager,
		health:      health.NewServer(),
		stopChan:    make(chan struct{}),
	}

	ac := api.DefaultConfig()
	ac.Logger = logger
	server := api.New(ac, api.Deps{
		Dispatcher: dispatcher,
		Tickets:    manager,
		Faults:     faultSvc,
		Ingestor:   ingestor,
		Store:      db,
		Bus:        client,
		Live:       hub,
	})
	e.httpServer = &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	e.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(e.grpcServer, e.health)
	e.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return e, nil
}

// Start connects the bus, subscribes to telemetry and begins serving.
// A broker that is unreachable at startup is logged, not fatal: the
// transports keep reconnecting and the health status reports it.
func (e *Engine) Start(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", e.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.config.HTTPAddr, err)
	}
	e.httpAddr = httpLn.Addr()

	var grpcLn net.Listener
	if e.config.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", e.config.GRPCAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", e.config.GRPCAddr, err)
		}
		e.grpcAddr = grpcLn.Addr()
	}

	if err := e.bus.Subscribe(e.config.Bus.TelemetryTopic, e.ingestor.HandleMessage); err != nil {
		httpLn.Close()
		if grpcLn != nil {
			grpcLn.Close()
		}
		return fmt.Errorf("failed to subscribe to %s: %w", e.config.Bus.TelemetryTopic, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, e.connectTimeout())
	if err := e.bus.Connect(connectCtx); err != nil {
		e.log.Warn("bus not connected at startup", "error", err)
	}
	cancel()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.hub.Run(hubCtx)
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer hubCancel()
		select {
		case <-e.stopChan:
		case <-ctx.Done():
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("http server failed", "error", err)
		}
	}()

	if grpcLn != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.grpcServer.Serve(grpcLn); err != nil {
				e.log.Error("grpc server failed", "error", err)
			}
		}()
	}

	e.wg.Add(1)
	go e.statusLoop(ctx)

	if e.config.TelemetryRetention > 0 {
		e.wg.Add(1)
		go e.retentionLoop(ctx)
	}

	e.log.Info("engine started", "http", e.httpAddr.String(), "transport", e.config.Bus.Transport,
		"telemetry_topic", e.config.Bus.TelemetryTopic, "control_topic", e.config.Bus.ControlTopic)
	return nil
}

// Stop shuts the servers down, waits for background loops and closes the
// bus and the store
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.httpServer.Shutdown(ctx); err != nil {
		e.log.Warn("http shutdown incomplete", "error", err)
	}
	e.health.Shutdown()
	e.grpcServer.GracefulStop()

	e.wg.Wait()

	if err := e.bus.Close(); err != nil {
		e.log.Warn("error closing bus", "error", err)
	}
	if err := e.db.Close(); err != nil {
		e.log.Warn("error closing database", "error", err)
	}

	stats := e.ingestor.Stats()
	e.log.Info("engine stopped", "received", stats.Received, "stored", stats.Stored, "dropped", stats.Dropped)
	return nil
}

// HTTPAddr returns the bound HTTP address once started
func (e *Engine) HTTPAddr() net.Addr { return e.httpAddr }

// GRPCAddr returns the bound gRPC address once started, or nil when disabled
func (e *Engine) GRPCAddr() net.Addr { return e.grpcAddr }

func (e *Engine) connectTimeout() time.Duration {
	if e.config.ConnectTimeout > 0 {
		return e.config.ConnectTimeout
	}
	return DefaultConfig().ConnectTimeout
}

// statusLoop mirrors bus connectivity into the gRPC health status
func (e *Engine) statusLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.config.StatusInterval
	if interval <= 0 {
		interval = DefaultConfig().StatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	connected := false
	e.updateHealth(&connected, true)
	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.updateHealth(&connected, false)
		}
	}
}

func (e *Engine) updateHealth(last *bool, force bool) {
	now := e.bus.IsConnected()
	if now == *last && !force {
		return
	}
	*last = now

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if now {
		status = healthpb.HealthCheckResponse_SERVING
	}
	e.health.SetServingStatus("", status)
	if !force {
		e.log.Info("bus connectivity changed", "connected", now)
	}
}

// retentionLoop prunes telemetry older than the retention window
func (e *Engine) retentionLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.config.PruneInterval
	if interval <= 0 {
		interval = DefaultConfig().PruneInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pruneTelemetry(ctx)
		}
	}
}

func (e *Engine) pruneTelemetry(ctx context.Context) {
	cutoff := time.Now().Add(-e.config.TelemetryRetention)
	n, err := e.db.PruneTelemetry(ctx, cutoff)
	if err != nil {
		e.log.Error("telemetry prune failed", "error", err)
		return
	}
	if n > 0 {
		e.log.Info("pruned telemetry", "deleted", n, "cutoff", cutoff.UTC())
	}
}
