// Command uplink-sim simulates a producer device: it enqueues a periodic
// sensor reading and drives the uplink core's Poll loop, logging queue
// depth so retry behavior is observable against a flaky collector.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgelink/uplink-go/uplink"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults when empty)")
	kind := flag.String("kind", "LIGHT_ADC", "event kind to enqueue")
	emitEvery := flag.Duration("emit-interval", time.Second, "interval between simulated readings")
	pollEvery := flag.Duration("poll-interval", 100*time.Millisecond, "interval between Poll calls")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := uplink.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = uplink.LoadConfig(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}

	core, err := uplink.New(cfg, uplink.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialize uplink", "err", err)
		os.Exit(1)
	}
	slog.Info("uplink-sim starting",
		"endpoint", cfg.Endpoint.Addr(),
		"path", cfg.Endpoint.Path,
		"device", cfg.DeviceID,
		"queueLen", cfg.QueueLen)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	emit := time.NewTicker(*emitEvery)
	defer emit.Stop()
	poll := time.NewTicker(*pollEvery)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("uplink-sim stopping", "pending", core.QueueDepth())
			return

		case <-emit.C:
			// Leave one slot free for higher-priority policy messages.
			if core.QueueDepth() >= cfg.QueueLen-1 {
				slog.Debug("queue near capacity, skipping reading")
				continue
			}
			value := uint32(rand.Intn(4096))
			id, err := core.EnqueueReading(*kind, "adc", value)
			switch {
			case errors.Is(err, uplink.ErrQueueFull):
				slog.Warn("queue full, reading dropped")
			case err != nil:
				slog.Error("enqueue failed", "err", err)
			default:
				slog.Debug("reading enqueued", "messageId", id, "value", value)
			}

		case <-poll.C:
			core.Poll()
		}
	}
}
