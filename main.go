// Command rangewarn is the field agent: it reads a distance sensor over a
// serial port, classifies readings into warning levels, persists them in a
// local SQLite database, and holds a realtime session with the coordination
// server. A small HTTP surface exposes status and mode control on the LAN.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/rangewarn/api"
	"github.com/banshee-data/rangewarn/internal/acquisition"
	"github.com/banshee-data/rangewarn/internal/config"
	"github.com/banshee-data/rangewarn/internal/realtime"
	"github.com/banshee-data/rangewarn/internal/serialport"
	"github.com/banshee-data/rangewarn/internal/session"
	"github.com/banshee-data/rangewarn/internal/store"
	"github.com/banshee-data/rangewarn/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file (defaults apply when omitted)")
	dbPath     = flag.String("db", "", "Warnings database path (overrides config)")
	listen     = flag.String("listen", ":8080", "Listen address for the operator API")
	portName   = flag.String("port", "", "Serial port to read at startup")
	simulate   = flag.Bool("simulate", false, "Start in simulation mode instead of idle")
	offline    = flag.Bool("offline", false, "Skip the coordination server connection")
)

func main() {
	flag.Parse()
	log.Printf("rangewarn %s", version.String())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	path := cfg.GetDBPath()
	if *dbPath != "" {
		path = *dbPath
	}
	db, err := store.Open(path)
	if err != nil {
		log.Fatalf("failed to open warning store: %v", err)
	}
	defer db.Close()

	client := realtime.NewClient(realtime.Options{
		Config:   cfg,
		Store:    db,
		Sessions: session.FileStore{Path: cfg.GetSessionFile()},
	})

	manager := acquisition.NewManager(client, acquisition.Options{
		Serial: serialport.Config{
			BaudRate:    cfg.GetBaudRate(),
			ReadTimeout: cfg.GetSerialReadTimeout(),
		},
		OnAnyOpened: func() { log.Print("serial source online") },
		OnAllClosed: func() { log.Print("all serial sources closed") },
	})
	client.SetAcquisition(manager)
	defer manager.StopAll()

	switch {
	case *portName != "":
		manager.SetSinglePort(*portName)
	case *simulate:
		manager.SetSimulation()
	default:
		manager.SetIdle()
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the realtime client; a socket failure is terminal and brings the
	// whole process down so a supervisor can restart it cleanly
	if !*offline {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("realtime client stopped: %v", err)
				stop()
			}
			log.Print("realtime client routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only over Tailscale)
		db.AttachAdminRoutes(mux)

		// mount the operator API handlers
		apiMux := api.NewServer(client, manager, db).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: h,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
