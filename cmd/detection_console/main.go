package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/console"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/media"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/poller"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/preview"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/render"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/upload"
)

var (
	// Command-line flags; set flags win over the environment.
	envFile     = flag.String("env", ".env", "dotenv file to load before reading the environment")
	backendURL  = flag.String("backend", "", "Detection backend base URL")
	httpAddr    = flag.String("http", "", "Console HTTP address")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
	textTable   = flag.Bool("table", false, "Also print the detections table to stdout")
	startLive   = flag.Bool("live", false, "Select the real-time camera at startup")
	startFile   = flag.String("file", "", "Upload and select this local file at startup")
	startRun    = flag.Bool("run", false, "Start detection after the startup selection")
	pollEvery   = flag.Duration("poll", poller.DefaultInterval, "Detections poll interval")
	httpTimeout = flag.Duration("backend-timeout", 0, "Optional timeout for detection fetches and crop requests (0 waits forever)")
)

// App owns every long-lived component of the console.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cfg        config.Config
	metrics    *metrics.Metrics
	client     *backend.Client
	poller     *poller.Poller
	controller *preview.Controller
	console    *console.Server
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	logger.Info("Main", "Detection console starting...")
	logger.Info("Main", "Backend: %s", cfg.BackendURL)
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create console: %v", err)
	}

	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start console: %v", err)
	}
	app.applyStartup()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	if err := app.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Console stopped")
}

// loadConfig layers explicitly set flags over the environment.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*envFile)
	if err != nil {
		return cfg, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.BackendURL = *backendURL
		case "http":
			cfg.Addr = *httpAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-color":
			cfg.LogColor = *logColor
		case "table":
			cfg.TerminalTable = *textTable
		}
	})
	return cfg, cfg.Validate()
}

// NewApp wires the console.
func NewApp(cfg config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()

	// Streams are long-lived, so the client itself has no timeout; requests
	// that should end carry their own deadline.
	client, err := backend.NewClient(cfg.BackendURL, &timeoutDoer{client: &http.Client{}, timeout: *httpTimeout}, logger.For("Backend"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	frames := console.NewFrameBroadcaster(logger.For("FrameStream"), m)
	rows := console.NewRowStore(logger.For("RowStore"))
	video := &console.VideoSlot{}

	tables := render.MultiTable{rows}
	if cfg.TerminalTable {
		tables = append(tables, render.NewTextTable(os.Stdout))
	}
	renderer := render.New(tables, render.Options{ResolveURL: client.ResolveURL})

	p := poller.New(client, renderer,
		poller.WithLogger(logger.For("Poller")),
		poller.WithMetrics(m),
	)

	mounter := media.NewMounter(ctx, media.MounterConfig{
		Opener:   client,
		Frames:   frames,
		Video:    video,
		MaxWidth: cfg.PreviewMaxWidth,
		Logger:   logger.For("Media"),
		Metrics:  m,
	})

	ctrl := preview.New(ctx, preview.Deps{
		Mounter:  mounter,
		Poller:   p,
		Uploader: upload.NewCoordinator(client, logger.For("Upload"), m),
		Streams:  client,
		Interval: *pollEvery,
		Logger:   logger.For("Preview"),
		Metrics:  m,
	})
	mounter.Unmount()

	srv := console.NewServer(console.Config{
		Controller:   ctrl,
		Frames:       frames,
		Rows:         rows,
		Video:        video,
		Metrics:      m,
		Logger:       logger.For("Console"),
		ActionRate:   cfg.ActionRate,
		ActionWindow: cfg.ActionWindow,
	})

	return &App{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		metrics:    m,
		client:     client,
		poller:     p,
		controller: ctrl,
		console:    srv,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			// Streaming handlers end when the app context is cancelled.
			BaseContext: func(net.Listener) context.Context { return ctx },
		},
	}, nil
}

// Start begins serving the console.
func (a *App) Start() error {
	logger.Info("Main", "Console listening on %s", a.cfg.Addr)

	errCh := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

// applyStartup performs the source selection requested on the command line.
func (a *App) applyStartup() {
	switch {
	case *startFile != "":
		if _, err := a.controller.SelectFile(a.ctx, *startFile); err != nil {
			logger.Error("Main", "Startup file %s: %v", *startFile, err)
			return
		}
	case *startLive:
		a.controller.SelectLive()
	default:
		return
	}
	if *startRun {
		if err := a.controller.Run(); err != nil {
			logger.Error("Main", "Startup run: %v", err)
		}
	}
}

// Shutdown stops detection, drains the poller and closes the HTTP server.
func (a *App) Shutdown() error {
	a.controller.Stop()
	a.cancel()
	a.poller.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.httpServer.Shutdown(ctx)
	a.wg.Wait()

	if cerr := a.console.Close(); cerr != nil {
		logger.Warn("Main", "Failed to clean spooled uploads: %v", cerr)
	}
	return err
}

// timeoutDoer bounds requests that have no deadline of their own. MJPEG
// streams and uploads are left unbounded.
type timeoutDoer struct {
	client  *http.Client
	timeout time.Duration
}

func (d *timeoutDoer) Do(req *http.Request) (*http.Response, error) {
	if d.timeout <= 0 || unbounded(req) {
		return d.client.Do(req)
	}
	if _, ok := req.Context().Deadline(); ok {
		return d.client.Do(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), d.timeout)
	resp, err := d.client.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func unbounded(req *http.Request) bool {
	for _, p := range []string{backend.VideoFeedPath, backend.FileFeedPath, backend.UploadPath} {
		if strings.HasSuffix(req.URL.Path, p) {
			return true
		}
	}
	return false
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
