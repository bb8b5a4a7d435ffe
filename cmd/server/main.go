// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/nyxbox/internal/api/connect"
	"github.com/osa030/nyxbox/internal/app/player"
	"github.com/osa030/nyxbox/internal/app/session"
	"github.com/osa030/nyxbox/internal/infra/catalog"
	"github.com/osa030/nyxbox/internal/infra/config"
	"github.com/osa030/nyxbox/internal/infra/logger"
	"github.com/osa030/nyxbox/internal/infra/speaker"
)

var (
	app        = kingpin.New("nyxbox-server", "nyxbox playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").Envar("NYX_CONFIG").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	startCmd = app.Command("start", "Start the server (default)").Default()
	scanCmd  = app.Command("scan", "Index the music library, print counts and exit")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func() { _ = logCloser.Close() }()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Config file settings apply unless overridden on the command line.
	if !*verbose || (*logfile == "" && cfg.Log.File != "") {
		if !*verbose {
			loggerConfig.Level = cfg.Log.Level
		}
		if *logfile == "" && cfg.Log.File != "" {
			loggerConfig.Output = "file"
			loggerConfig.File = cfg.Log.File
		}
		logCloser, err = logger.Reinit(logCloser, loggerConfig)
		if err != nil {
			zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
		}
	}

	switch command {
	case scanCmd.FullCommand():
		err = scan(cfg)
	case startCmd.FullCommand():
		err = run(cfg)
	}
	if err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

func newCatalog(cfg *config.Config) *catalog.Catalog {
	return catalog.New(catalog.Config{
		MusicPath:  cfg.Catalog.MusicPath,
		Extensions: cfg.Catalog.Extensions,
		SkipDirs:   cfg.Catalog.SkipDirs,
		MaxResults: cfg.Catalog.MaxResults,
	})
}

// loadCatalog restores the saved index, if any, and rescans the library.
func loadCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, int, error) {
	lib := newCatalog(cfg)
	if path := cfg.Catalog.IndexPath; path != "" {
		if _, err := lib.Load(path); err != nil {
			zlog.Warn().Msgf("Ignoring saved library index: %v", err)
		}
	}
	added, err := lib.Scan(ctx)
	if err != nil {
		return nil, 0, err
	}
	saveCatalog(cfg, lib)
	return lib, added, nil
}

func saveCatalog(cfg *config.Config, lib *catalog.Catalog) {
	if cfg.Catalog.IndexPath == "" {
		return
	}
	if err := lib.Save(cfg.Catalog.IndexPath); err != nil {
		zlog.Error().Msgf("Failed to save library index: %v", err)
	}
}

// scan indexes the library once, saves the index and reports what it found.
func scan(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lib, added, err := loadCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d songs (%d new) under %s\n", lib.Len(), added, cfg.Catalog.MusicPath)
	return nil
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lib, _, err := loadCatalog(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "initial library scan failed")
	}

	if !speaker.AudioAvailable {
		zlog.Warn().Msg("Audio output is not available in this build; joins will fail")
	}
	out := speaker.New(speaker.Config{
		SampleRate:   cfg.Audio.SampleRate,
		BufferSize:   cfg.Audio.BufferSize,
		Destinations: cfg.Audio.Destinations,
	})

	p := player.New(out, player.Config{
		QueueCapacity:        cfg.Player.QueueCapacity,
		IdleTimeout:          cfg.Player.IdleTimeout,
		DefaultVolume:        cfg.Player.DefaultVolume,
		DuplicatePlayRetries: cfg.Player.MaxDupPlayRetries,
	})

	sessionMgr := session.NewManager(p, lib, session.Config{
		DefaultDestination: cfg.Audio.DefaultDestination,
		PromptTTL:          cfg.Prompt.TTL,
	})
	sessionMgr.Start()

	// Keep the library current in the background
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		err := lib.Watch(ctx, catalog.WatchOptions{
			Interval: cfg.Catalog.RescanInterval,
			Notify:   cfg.Catalog.WatchEnabled(),
			OnScan:   sessionMgr.LibraryScanned,
		})
		if err != nil {
			zlog.Error().Msgf("Library watch stopped: %v", err)
		}
	}()

	// Create RPC services
	playerService := apiconnect.NewPlayerService(sessionMgr, cfg)
	adminService := apiconnect.NewAdminService(sessionMgr, cfg)

	mux := http.NewServeMux()
	playerPath, playerHandler := apiconnect.NewPlayerServiceHandler(playerService)
	adminPath, adminHandler := apiconnect.NewAdminServiceHandler(
		adminService,
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg)),
	)
	mux.Handle(playerPath, playerHandler)
	mux.Handle(adminPath, adminHandler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")
	defer executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop background work and the player first to end open streams
	cancel()
	<-watchDone
	saveCatalog(cfg, lib)
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return runErr
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
