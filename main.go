package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"windbuck-go/platform"
	"windbuck-go/services/config"
	"windbuck-go/services/controller"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "", "YAML file overlaid on the embedded defaults")
	sim := flag.Bool("sim", false, "run against the simulated converter instead of the board")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("windbuck %s (build %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	profile := config.DefaultProfile
	if *sim {
		profile = config.SimProfile
	}
	cfg, err := config.Load(profile, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	log := setupLogger(cfg.Log)
	os.Exit(run(cfg, *sim, log))
}

func run(cfg *config.Config, sim bool, log *logrus.Logger) int {
	session := uuid.NewString()
	entry := log.WithField("session", session)
	entry.WithFields(logrus.Fields{"version": Version, "sim": sim}).Info("windbuck starting")

	hw, err := platform.Open(cfg.Board(), sim, cfg.SimOptions())
	if err != nil {
		entry.WithError(err).Error("open hardware")
		return 1
	}

	if cfg.Control.LockMemory {
		if err := platform.LockMemory(); err != nil {
			entry.WithError(err).Warn("memory lock unavailable")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := controller.New(ctx, cfg, hw, controller.Options{Log: log, Session: session})
	if err != nil {
		entry.WithError(err).Error("build controller")
		_ = hw.Close()
		return 1
	}
	if err := c.Run(ctx); err != nil {
		entry.WithError(err).Error("control session failed")
		return 1
	}
	entry.Info("windbuck stopped")
	return 0
}

func setupLogger(cfg config.Log) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("open log file %s: %v; logging to stdout", cfg.FilePath, err)
		}
	}
	return log
}
