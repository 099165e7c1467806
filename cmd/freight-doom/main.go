// Command freight-doom polls public court, securities and carrier-registry
// sources for signs of transportation-company bankruptcies and publishes
// every detected event to Redis.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/freightdoom/engine/internal/circuitbreaker"
	"github.com/freightdoom/engine/internal/config"
	"github.com/freightdoom/engine/internal/dedup"
	"github.com/freightdoom/engine/internal/events"
	"github.com/freightdoom/engine/internal/metrics"
	"github.com/freightdoom/engine/internal/ops"
	"github.com/freightdoom/engine/internal/publisher"
	"github.com/freightdoom/engine/internal/scanners"
	"github.com/freightdoom/engine/internal/textscan"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg := config.Load()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	log.Info("💀 FREIGHT DOOM ENGINE starting...")
	log.WithFields(log.Fields{
		"redis_channel": cfg.RedisChannel,
		"metrics_port":  cfg.MetricsPort,
		"log_level":     level.String(),
	}).Info("configuration loaded")

	// 1. Shared pipeline components

	classifier := textscan.New()
	log.Info("✅ keyword classifier compiled")

	deduper := dedup.New(cfg.BloomExpectedItems, cfg.BloomFPRate, cfg.LruCacheSize, cfg.BloomRotationInterval)
	log.Info("✅ dedup engine ready")

	breakers := circuitbreaker.NewManager(cfg.BreakerFailureThreshold, cfg.BreakerResetTimeout, cfg.BreakerSuccessThreshold)
	bus := events.NewBus(cfg.EventBusCapacity)
	tap := events.NewTap()

	prom := metrics.NewPromMetrics()
	collector := metrics.NewCollector(prom)
	collector.SetTripSource(breakers.TotalTrips)
	collector.SetRotationSource(deduper.Rotations)
	prom.RegisterGaugeFunc("freightdoom_bus_depth",
		"Events waiting on the in-process bus",
		func() float64 { return float64(bus.Len()) })
	prom.RegisterGaugeFunc("freightdoom_breaker_trips_total",
		"Circuit breaker trips across all scanners",
		func() float64 { return float64(breakers.TotalTrips()) })
	prom.RegisterGaugeFunc("freightdoom_bloom_rotations_total",
		"Bloom filter rotations since start",
		func() float64 { return float64(deduper.Rotations()) })

	broker, err := publisher.NewRedisBroker(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("invalid Redis configuration")
	}
	pub := publisher.New(broker, bus, tap, collector, cfg.RedisChannel, cfg.RedisSortedSet)

	// 2. Scanners

	deps := &scanners.Deps{
		Classifier:    classifier,
		Dedup:         deduper,
		Bus:           bus,
		Metrics:       collector,
		MinConfidence: cfg.MinConfidence,
	}
	pollers := []scanners.Scanner{
		scanners.NewPacerScanner(cfg, deps, breakers.Get("pacer")),
		scanners.NewEdgarScanner(cfg, deps, breakers.Get("edgar")),
		scanners.NewFmcsaScanner(cfg, deps, breakers.Get("fmcsa")),
		scanners.NewCourtListenerScanner(cfg, deps, breakers.Get("courtlistener")),
	}
	log.WithField("scanners", len(pollers)).Info("✅ scanners constructed")

	// 3. Run everything

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pollerWG sync.WaitGroup
	for _, p := range pollers {
		pollerWG.Add(1)
		go func(p scanners.Scanner) {
			defer pollerWG.Done()
			p.Run(ctx)
		}(p)
	}

	var restWG sync.WaitGroup

	restWG.Add(1)
	go func() {
		defer restWG.Done()
		if err := pub.Run(ctx); err != nil {
			log.WithError(err).Error("publisher exited with error")
		}
	}()

	restWG.Add(1)
	go func() {
		defer restWG.Done()
		if err := metrics.NewServer(collector, cfg.MetricsPort).Run(ctx); err != nil {
			log.WithError(err).Error("metrics server exited with error")
		}
	}()

	if cfg.OpsPort > 0 {
		opsServer := ops.New(collector, deduper, tap, prom, pollers, cfg.OpsPort)
		restWG.Add(1)
		go func() {
			defer restWG.Done()
			if err := opsServer.Run(ctx); err != nil {
				log.WithError(err).Error("ops server exited with error")
			}
		}()
	}

	log.Info("🚀 engine running, all systems live")

	// 4. Shutdown

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("🛑 shutdown signal received")

	cancel()

	done := make(chan struct{})
	go func() {
		pollerWG.Wait()
		bus.Close()
		restWG.Wait()
		broker.Close()
		close(done)
	}()

	select {
	case <-done:
		stats := pub.Snapshot()
		log.WithFields(log.Fields{
			"events_published": stats.EventsPublished,
			"publish_errors":   stats.PublishErrors,
		}).Info("✅ clean shutdown complete")
	case <-time.After(shutdownGrace):
		log.Warn("shutdown grace period expired, abandoning remaining workers")
	}
}
