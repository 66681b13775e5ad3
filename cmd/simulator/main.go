package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gator-chat/internal/logging"
	"gator-chat/simulator"
)

func main() {
	config := simulator.DefaultSimConfig()
	flag.StringVar(&config.EngineURL, "url", config.EngineURL, "base URL of the chat engine")
	flag.IntVar(&config.NumUsers, "users", config.NumUsers, "number of simulated users")
	flag.DurationVar(&config.SimulationTime, "duration", config.SimulationTime, "how long to run")
	flag.Float64Var(&config.MessageFrequency, "rate", config.MessageFrequency, "messages per user per minute")
	flag.Float64Var(&config.DisconnectRate, "disconnect", config.DisconnectRate, "per-second disconnect probability")
	flag.Float64Var(&config.ReconnectRate, "reconnect", config.ReconnectRate, "per-second reconnect probability")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logger := logging.Setup(*logLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, config.SimulationTime)
	defer cancel()

	logger.Info("starting simulation",
		"engine_url", config.EngineURL,
		"users", config.NumUsers,
		"duration", config.SimulationTime,
		"rate", config.MessageFrequency,
		"disconnect_rate", config.DisconnectRate,
		"reconnect_rate", config.ReconnectRate,
		"zipf_s", config.ZipfS,
	)

	sim := simulator.NewEnhancedSimulator(config, logger)
	if err := sim.Run(ctx); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	metrics := sim.GetMetrics()
	logger.Info("simulation completed",
		"total_users", metrics.TotalUsers,
		"active_users", metrics.ActiveUsers,
		"sent", metrics.MessagesSent,
		"accepted", metrics.MessagesAccepted,
		"delivered", metrics.MessagesDelivered,
		"received", metrics.MessagesReceived,
		"read_updates", metrics.ReadUpdates,
		"typing", metrics.TypingSent,
		"avg_latency", metrics.AverageLatency.Round(time.Microsecond),
		"errors", metrics.ErrorCount,
	)
}
