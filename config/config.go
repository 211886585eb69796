// Package config loads partitiond's YAML configuration file and applies it
// to a daemon.Config, mirroring the teacher's config package split: no
// daemon or supervisor code parses flags or decodes YAML itself, that work
// lives here so cmd/partitiond stays a thin entrypoint.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kapetan-io/partlife/daemon"
	"github.com/kapetan-io/tackle/color"
)

// File is the on-disk shape of a partitiond config file.
type File struct {
	Logging   Logging   `yaml:"logging"`
	Partition Partition `yaml:"partition"`
	Storage   Storage   `yaml:"storage"`
	Consensus Consensus `yaml:"consensus"`
	Metrics   Metrics   `yaml:"metrics"`
	// ConfigFile is the path to the config file that was loaded.
	ConfigFile string
}

type Logging struct {
	Level   string `yaml:"level"`
	Handler string `yaml:"handler"`
}

type Partition struct {
	PartitionID int64 `yaml:"partition-id"`
	NodeID      int64 `yaml:"node-id"`
}

type Storage struct {
	Driver     string `yaml:"driver"`
	StorageDir string `yaml:"storage-dir"`
}

type Consensus struct {
	Endpoint string `yaml:"endpoint"`
}

type Metrics struct {
	ListenAddress   string        `yaml:"listen-address"`
	HealthCheckTick time.Duration `yaml:"health-check-tick"`
	StepOpenTimeout time.Duration `yaml:"step-open-timeout"`
}

// ApplyConfigFile populates conf from file, defaulting anything file leaves
// unset.
func ApplyConfigFile(conf *daemon.Config, file File, w io.Writer) error {
	if err := setupLogger(file, w, conf); err != nil {
		return err
	}

	conf.PartitionID = file.Partition.PartitionID
	conf.NodeID = file.Partition.NodeID
	conf.StorageDriver = file.Storage.Driver
	conf.StorageDir = file.Storage.StorageDir
	conf.ConsensusEndpoint = file.Consensus.Endpoint
	conf.ListenAddress = file.Metrics.ListenAddress
	conf.HealthCheckTick = file.Metrics.HealthCheckTick
	conf.StepOpenTimeout = file.Metrics.StepOpenTimeout

	conf.SetDefaults()

	if file.ConfigFile != "" {
		conf.Log.Info("loaded config from file", "file", file.ConfigFile)
	}
	return nil
}

func setupLogger(file File, w io.Writer, d *daemon.Config) error {
	switch file.Logging.Handler {
	case "color", "":
		d.Log = slog.New(color.NewLog(&color.LogOptions{
			HandlerOptions: slog.HandlerOptions{
				Level: toLogLevel(file.Logging.Level),
			},
			Writer: w,
		}))
		return nil
	case "text":
		d.Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: toLogLevel(file.Logging.Level),
		}))
		return nil
	case "json":
		d.Log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: toLogLevel(file.Logging.Level),
		}))
		return nil
	default:
		return fmt.Errorf("invalid handler; '%s' is not one of (color, text, json)", file.Logging.Handler)
	}
}

func toLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
