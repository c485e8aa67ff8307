package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"novastream/config"
	"novastream/internal/cachestore"
	"novastream/internal/compatapi"
	"novastream/internal/fallback"
	"novastream/internal/metadata"
	"novastream/internal/ratelimit"
	"novastream/internal/scheduler"
	"novastream/internal/scraper"
	"novastream/internal/store"
	"novastream/internal/taskmanager"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("danmu aggregation platform starting...")

	configPath := os.Getenv("DANMU_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	if settings.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(settings.Log.File), 0o755); err != nil {
			log.Printf("warning: could not create log directory: %v", err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	st, err := store.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	cache := cachestore.New(st)

	limiter := ratelimit.New(st, ratelimit.Config{
		GlobalLimit:    settings.RateLimit.GlobalLimit,
		GlobalPeriod:   time.Duration(settings.RateLimit.GlobalPeriodSeconds) * time.Second,
		FallbackLimit:  settings.RateLimit.FallbackLimit,
		FallbackPeriod: time.Duration(settings.RateLimit.FallbackPeriodSeconds) * time.Second,
	})

	// Adapter signature verification needs an operator-supplied public
	// key; with verification requested but no key on disk, degrade to
	// unverified rather than refuse to start (see DESIGN.md).
	verificationEnabled := settings.Scraper.VerificationEnabled
	var pubKeyPEM []byte
	if verificationEnabled {
		keyPath := filepath.Join(filepath.Dir(configPath), "adapter_public_key.pem")
		pubKeyPEM, err = os.ReadFile(keyPath)
		if err != nil {
			log.Printf("warning: scraper verification requested but %s not found, disabling verification: %v", keyPath, err)
			verificationEnabled = false
		}
	}
	scraperRegistry, err := scraper.NewRegistry(limiter, verificationEnabled, nil, pubKeyPEM)
	if err != nil {
		log.Fatalf("failed to build scraper registry: %v", err)
	}

	metadataRegistry := metadata.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks, err := taskmanager.NewManager(ctx, st, 4, 2)
	if err != nil {
		log.Fatalf("failed to build task manager: %v", err)
	}

	ids := fallback.NewIDAllocator(st, cache)

	var matchBlacklist *regexp.Regexp
	if settings.Fallback.MatchFallbackBlacklist != "" {
		matchBlacklist, err = regexp.Compile(settings.Fallback.MatchFallbackBlacklist)
		if err != nil {
			log.Printf("warning: invalid matchFallbackBlacklist regex, ignoring: %v", err)
		}
	}
	matchFallbackTokens := make(map[string]bool, len(settings.Fallback.MatchFallbackTokens))
	for _, tok := range settings.Fallback.MatchFallbackTokens {
		matchFallbackTokens[tok] = true
	}

	engine := fallback.NewEngine(st, cache, ids, scraperRegistry, metadataRegistry, tasks, limiter, fallback.Config{
		SearchFallbackEnabled:         settings.Fallback.SearchFallbackEnabled,
		MatchFallbackEnabled:          settings.Fallback.MatchFallbackEnabled,
		MatchFallbackTokens:           matchFallbackTokens,
		MatchFallbackBlacklist:        matchBlacklist,
		PreDownloadNextEpisodeEnabled: settings.Fallback.PreDownloadNextEpisodeEnabled,
		ExternalApiFallbackEnabled:    settings.Fallback.ExternalApiFallbackEnabled,
		AIMatchEnabled:                settings.Fallback.AIMatchEnabled,
		AIFallbackEnabled:             settings.Fallback.AIFallbackEnabled,
		DanmakuOutputLimitPerSource:   settings.Fallback.DanmakuOutputLimitPerSource,
	}, nil)

	schedulerService := scheduler.NewService(st, func(ctx context.Context, factory scheduler.TaskFactory, title string, opts scheduler.SubmitOptions) (string, <-chan struct{}, error) {
		return tasks.SubmitTask(ctx, func(ctx context.Context, progress taskmanager.ProgressFunc) error {
			return factory(ctx, progress)
		}, title, taskmanager.SubmitOptions{
			UniqueKey:       opts.UniqueKey,
			QueueType:       opts.QueueType,
			TaskType:        opts.TaskType,
			RunImmediately:  opts.RunImmediately,
			ScheduledTaskID: opts.ScheduledTaskID,
		})
	})

	handler := compatapi.NewHandler(engine, st)
	router := compatapi.NewRouter(handler, st, cfgManager)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	schedulerService.Start(ctx)

	go func() {
		log.Printf("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("stopping scheduler...")
	schedulerService.Stop()

	log.Println("waiting for in-flight tasks...")
	tasks.Wait()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	log.Println("shutdown complete")
}
