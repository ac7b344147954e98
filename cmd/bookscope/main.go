package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bookscope/bookscope/internal/config"
	"github.com/bookscope/bookscope/internal/coordinator"
	natspub "github.com/bookscope/bookscope/pkg/nats"
	"github.com/bookscope/bookscope/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	log := logrus.WithField("component", "bookscope")

	var pub coordinator.Publisher
	if cfg.NATSURL != "" {
		p, err := natspub.NewPublisher(cfg.NATSURL)
		if err != nil {
			logrus.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer p.Close()
		pub = p
	}

	coord, err := coordinator.New(cfg, pub)
	if err != nil {
		logrus.Fatalf("Failed to create coordinator: %v", err)
	}
	defer coord.Close()

	// Seed every venue with a snapshot, then bring up streaming where the
	// venue supports it. Per-venue failures are recorded, not fatal.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, id := range types.AllVenues() {
		symbol := cfg.Venues[id].DefaultSymbol

		if err := coord.FetchSnapshot(ctx, id, symbol); err != nil {
			log.Warnf("Snapshot for %s failed: %v", id, err)
		}

		if err := coord.Connect(ctx, id); err != nil {
			if errors.Is(err, types.ErrStreamingUnsupported) {
				log.Infof("%s is REST-only, skipping streaming", id)
			} else {
				log.Warnf("Streaming connect for %s failed: %v", id, err)
			}
		}
	}
	cancel()

	log.Info("bookscope running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down")
}
