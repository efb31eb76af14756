package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/dvloznov/notification-logger/internal/api/handlers"
	"github.com/dvloznov/notification-logger/internal/api/middleware"
	"github.com/dvloznov/notification-logger/internal/capture"
	"github.com/dvloznov/notification-logger/internal/logger"
	"github.com/dvloznov/notification-logger/internal/notify"
	"github.com/dvloznov/notification-logger/internal/prefs"
	"github.com/dvloznov/notification-logger/internal/reconcile"
	"github.com/dvloznov/notification-logger/internal/sheets"
	"github.com/dvloznov/notification-logger/internal/store"
	"github.com/dvloznov/notification-logger/internal/uploader"
)

func main() {
	// Parse command-line flags
	var (
		port          = flag.String("port", "8080", "HTTP server port")
		dbPath        = flag.String("db", "notification-logger.db", "SQLite queue database path")
		prefsPath     = flag.String("prefs", "prefs.yaml", "Preferences file path")
		notifyURLs    = flag.String("notify-urls", os.Getenv("NOTIFY_URLS"), "Comma-separated shoutrrr URLs for categorization prompts (or set NOTIFY_URLS env)")
		notifyTimeout = flag.Duration("notify-timeout", 10*time.Second, "Push notification send timeout")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	ctx := context.Background()

	pr, err := prefs.New(*prefsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *prefsPath).Msg("Failed to load preferences")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("Failed to open queue store")
	}
	defer st.Close()

	// Sheets access uses application default credentials. Missing
	// credentials leave the daemon in queue-only mode rather than
	// refusing to start.
	ts, err := google.DefaultTokenSource(ctx, sheets.Scope)
	if err != nil {
		log.Warn().Err(err).Msg("No Google credentials found - uploads disabled until sign-in")
		ts = nil
	}
	sheetClient, err := sheets.NewClient(ctx, ts, logger.ForComponent(log, "sheets"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sheets client")
	}

	// Categorization prompts go out over shoutrrr when configured, and
	// into the daemon log otherwise.
	var providers []notify.Provider
	if *notifyURLs != "" {
		urls := strings.Split(*notifyURLs, ",")
		shoutrrrProvider, err := notify.NewShoutrrrProvider(urls, *notifyTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid notification URLs")
		}
		providers = append(providers, shoutrrrProvider)
	} else {
		promptLog := logger.ForComponent(log, "prompts")
		providers = append(providers, &notify.LogProvider{Printf: func(format string, args ...interface{}) {
			promptLog.Info().Msgf(format, args...)
		}})
	}
	prompts := notify.NewManager(logger.ForComponent(log, "notify"), providers...)

	coordinator := uploader.New(st, pr, sheetClient, prompts, uploader.DefaultRetryPolicy(), logger.ForComponent(log, "uploader"))
	listener := capture.NewListener(pr, st, coordinator, logger.ForComponent(log, "capture"))
	reconciler := reconcile.New(sheetClient, pr, prompts, logger.ForComponent(log, "reconcile"))

	// Run the upload coordinator in the background
	uploadCtx, cancelUploads := context.WithCancel(ctx)
	defer cancelUploads()

	go coordinator.Start(uploadCtx)

	// Safety-net trigger: catches batches stranded by a crash between
	// queue write and trigger, and retries exhausted by earlier runs.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-uploadCtx.Done():
				return
			case <-ticker.C:
				coordinator.Trigger()
			}
		}
	}()
	coordinator.Trigger()

	// Initialize handlers
	notificationsHandler := handlers.NewNotificationsHandler(listener, st, pr, log)
	transactionsHandler := handlers.NewTransactionsHandler(st, pr, coordinator, log)
	categoriesHandler := handlers.NewCategoriesHandler(pr, log)
	categorizeHandler := handlers.NewCategorizeHandler(reconciler, prompts, log)
	statusHandler := handlers.NewStatusHandler(st, pr, sheetClient, prompts, log)
	consentHandler := handlers.NewConsentHandler(pr, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			notificationsHandler.Ingest(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/notifications/rescan", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			notificationsHandler.Rescan(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/pending", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			notificationsHandler.ListPending(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/purge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			notificationsHandler.PurgeUploaded(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			transactionsHandler.Create(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			categoriesHandler.ListCategories(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/categorize/next", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			categorizeHandler.Next(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/categorize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			categorizeHandler.Submit(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			statusHandler.Status(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/consent", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			consentHandler.Set(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting notification logger daemon")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down daemon...")

	// Stop the upload loop
	cancelUploads()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Daemon exited")
}
