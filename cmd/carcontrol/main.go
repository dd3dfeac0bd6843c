// Command carcontrol tracks a robot in a camera or simulator feed and drives
// it toward a goal with a PID loop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/control"
	"github.com/banshee-data/carcontrol/internal/debug"
	"github.com/banshee-data/carcontrol/internal/fsutil"
	"github.com/banshee-data/carcontrol/internal/timeutil"
	"github.com/banshee-data/carcontrol/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the tuning JSON file (empty uses built-in defaults)")
	listen      = flag.String("listen", "", "Debug HTTP listen address, e.g. :8090 (disabled when empty)")
	explore     = flag.Bool("explore", false, "Drive random commands instead of tracking the objective")
	logLevel    = flag.String("log-level", "ops", "Log streams to enable: off, ops, diag or trace")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("carcontrol"))
		return
	}
	if err := setLogLevel(*logLevel, os.Stderr); err != nil {
		log.Fatal(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("run failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.TuningConfig) error {
	runID := uuid.NewString()
	clock := timeutil.RealClock{}

	devs, err := openDevices(cfg, clock)
	if err != nil {
		return err
	}
	defer func() {
		if err := devs.Close(); err != nil {
			log.Printf("close devices: %v", err)
		}
	}()

	live := debug.NewLive(runID)
	sink, rec, err := newDebugSinks(cfg, fsutil.OSFileSystem{}, runID, live)
	if err != nil {
		return err
	}

	loop, err := newLoop(cfg, devs, clock, sink)
	if err != nil {
		return err
	}

	if *listen != "" {
		server := serveDebug(*listen, live, loop)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown: %v", err)
			}
		}()
	}

	log.Printf("run %s: source=%s sink=%s objective=%s", runID, cfg.GetSource(), cfg.GetSink(), cfg.GetObjective())
	runErr := withSession(ctx, devs, cfg.GetSessionTimeout(), func() error {
		if *explore {
			return loop.Explore(ctx)
		}
		return loop.Run(ctx)
	})

	if rec != nil {
		if err := rec.Close(); err != nil {
			log.Printf("debug output: %v", err)
		} else {
			log.Printf("debug output written to %s", rec.Dir())
		}
	}
	if stats, err := json.Marshal(loop.Stats()); err == nil {
		log.Printf("run %s finished: %s", runID, stats)
	}
	return runErr
}

// serveDebug starts the tsweb debug pages and a stats endpoint on addr.
func serveDebug(addr string, live *debug.Live, loop *control.Loop) *http.Server {
	mux := http.NewServeMux()
	live.AttachAdminRoutes(mux)
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Stats control.Stats           `json:"stats"`
			PID   control.ControllerState `json:"pid"`
		}{loop.Stats(), loop.PID()})
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server: %v", err)
		}
	}()
	log.Printf("debug pages on http://%s/debug/", addr)
	return server
}
