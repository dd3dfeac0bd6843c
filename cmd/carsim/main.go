// Command carsim serves the in-process differential-drive simulator over the
// remote session API, so carcontrol can run against it with source "remote".
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/sim"
	"github.com/banshee-data/carcontrol/internal/timeutil"
	"github.com/banshee-data/carcontrol/internal/version"
)

var (
	listen      = flag.String("listen", "127.0.0.1:19999", "HTTP listen address")
	configPath  = flag.String("config", "", "Path to a tuning JSON file for the sim_* settings (empty uses built-in defaults)")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("carsim"))
		return
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	s, err := sim.New(sim.ConfigFromTuning(cfg), timeutil.RealClock{})
	if err != nil {
		log.Fatalf("failed to create simulator: %v", err)
	}
	handler := sim.NewHandler(s, sim.HandlerOptions{
		Camera:     cfg.GetRemoteCamera(),
		LeftJoint:  cfg.GetLeftJoint(),
		RightJoint: cfg.GetRightJoint(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              *listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("simulator listening on http://%s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down simulator")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if s.Connected() {
		_ = s.Disconnect(shutdownCtx)
	}
}
