// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads bufmgrsim settings from a file, the environment and
// defaults, and turns them into manager and device parameters.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shirou/gopsutil/mem"
	"github.com/spf13/viper"

	"github.com/gogpu/bufmgr"
	"github.com/gogpu/bufmgr/kernel"
)

// EnvPrefix prefixes environment overrides, e.g. BUFMGR_DEVICE_BACKEND.
const EnvPrefix = "BUFMGR"

// Config is the complete simulator configuration.
type Config struct {
	Manager  ManagerConfig  `mapstructure:"manager"`
	Device   DeviceConfig   `mapstructure:"device"`
	Workload WorkloadConfig `mapstructure:"workload"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ManagerConfig mirrors bufmgr.Config. Zero values keep the manager
// defaults.
type ManagerConfig struct {
	BatchWords        int           `mapstructure:"batch_words"`
	MaxRelocs         int           `mapstructure:"max_relocs"`
	MaxExec           int           `mapstructure:"max_exec"`
	MaxCPUMappings    int           `mapstructure:"max_cpu_mappings"`
	MaxDeviceMappings int           `mapstructure:"max_device_mappings"`
	NearMissRatio     float64       `mapstructure:"near_miss_ratio"`
	SearchRetry       int           `mapstructure:"search_retry"`
	SubmitRetries     int           `mapstructure:"submit_retries"`
	ExpireAfter       time.Duration `mapstructure:"expire_after"`
	UploadPartialSize int           `mapstructure:"upload_partial_size"`
	MaxPartials       int           `mapstructure:"max_partials"`
	LargeObjectPages  int           `mapstructure:"large_object_pages"`

	// SystemMemory caps single allocations. Zero detects the host memory.
	SystemMemory uint64 `mapstructure:"system_memory"`
}

// DeviceConfig selects and describes the device.
type DeviceConfig struct {
	// Backend is "fake" or "hal".
	Backend      string `mapstructure:"backend"`
	Gen          int    `mapstructure:"gen"`
	ApertureMB   uint64 `mapstructure:"aperture_mb"`
	MappableMB   uint64 `mapstructure:"mappable_mb"`
	LLC          bool   `mapstructure:"llc"`
	Snoop        bool   `mapstructure:"snoop"`
	BLT          bool   `mapstructure:"blt"`
	RelaxedFence bool   `mapstructure:"relaxed_fencing"`

	// CompleteEvery retires fake submissions after this many batches.
	CompleteEvery int `mapstructure:"complete_every"`
}

// WorkloadConfig shapes the synthetic client.
type WorkloadConfig struct {
	Frames         int   `mapstructure:"frames"`
	DrawsPerFrame  int   `mapstructure:"draws_per_frame"`
	MaxObjectSize  int   `mapstructure:"max_object_size"`
	SurfaceWidth   int   `mapstructure:"surface_width"`
	SurfaceHeight  int   `mapstructure:"surface_height"`
	UploadsPerDraw int   `mapstructure:"uploads_per_draw"`
	Seed           int64 `mapstructure:"seed"`
}

// DebugConfig controls the HTTP stats endpoint.
type DebugConfig struct {
	// Listen is the address to serve on. Empty disables the endpoint.
	Listen string `mapstructure:"listen"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

var (
	backends  = []string{"fake", "hal"}
	logLevels = []string{"debug", "info", "warn", "error"}
)

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Backend:       "fake",
			Gen:           60,
			ApertureMB:    2048,
			MappableMB:    256,
			LLC:           true,
			Snoop:         true,
			BLT:           true,
			RelaxedFence:  true,
			CompleteEvery: 2,
		},
		Workload: WorkloadConfig{
			Frames:         60,
			DrawsPerFrame:  32,
			MaxObjectSize:  256 << 10,
			SurfaceWidth:   1920,
			SurfaceHeight:  1080,
			UploadsPerDraw: 1,
			Seed:           1,
		},
		Logging: LoggingConfig{
			Level: "warn",
			Color: true,
		},
	}
}

// Load reads configuration from cfgFile (when set), BUFMGR_* environment
// variables and defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("bufmgrsim")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the simulator cannot use.
func (c *Config) Validate() error {
	if !slices.Contains(backends, c.Device.Backend) {
		return fmt.Errorf("device.backend must be one of: %v", backends)
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", logLevels)
	}
	if c.Device.MappableMB > c.Device.ApertureMB {
		return errors.New("device.mappable_mb exceeds device.aperture_mb")
	}
	if c.Manager.NearMissRatio != 0 && c.Manager.NearMissRatio < 1 {
		return errors.New("manager.near_miss_ratio must be at least 1")
	}
	if c.Workload.Frames < 0 || c.Workload.DrawsPerFrame <= 0 {
		return errors.New("workload.frames must be non-negative and workload.draws_per_frame positive")
	}
	if c.Workload.MaxObjectSize <= 0 {
		return errors.New("workload.max_object_size must be positive")
	}
	return nil
}

// virtualMemory is replaced in tests.
var virtualMemory = mem.VirtualMemory

// SystemMemory returns the total host memory in bytes, or zero when it
// cannot be determined.
func SystemMemory() uint64 {
	vm, err := virtualMemory()
	if err != nil || vm == nil {
		return 0
	}
	return vm.Total
}

// ManagerConfig returns the manager configuration. A zero SystemMemory is
// filled from the host.
func (c *Config) ManagerConfig() bufmgr.Config {
	m := c.Manager
	sys := m.SystemMemory
	if sys == 0 {
		sys = SystemMemory()
	}
	return bufmgr.Config{
		BatchWords:        m.BatchWords,
		MaxRelocs:         m.MaxRelocs,
		MaxExec:           m.MaxExec,
		MaxCPUMappings:    m.MaxCPUMappings,
		MaxDeviceMappings: m.MaxDeviceMappings,
		NearMissRatio:     m.NearMissRatio,
		SearchRetry:       m.SearchRetry,
		SubmitRetries:     m.SubmitRetries,
		ExpireAfter:       m.ExpireAfter,
		SystemMemory:      sys,
		UploadPartialSize: m.UploadPartialSize,
		MaxPartials:       m.MaxPartials,
		LargeObjectPages:  m.LargeObjectPages,
	}
}

// Params returns the device parameters described by the configuration.
func (c *Config) Params() kernel.Params {
	d := c.Device
	return kernel.Params{
		Gen:               d.Gen,
		ApertureTotal:     d.ApertureMB << 20,
		ApertureMappable:  d.MappableMB << 20,
		HasLLC:            d.LLC,
		HasSnoop:          d.Snoop,
		HasBLT:            d.BLT,
		HasRelaxedFencing: d.RelaxedFence,
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("manager.batch_words", cfg.Manager.BatchWords)
	v.SetDefault("manager.max_relocs", cfg.Manager.MaxRelocs)
	v.SetDefault("manager.max_exec", cfg.Manager.MaxExec)
	v.SetDefault("manager.max_cpu_mappings", cfg.Manager.MaxCPUMappings)
	v.SetDefault("manager.max_device_mappings", cfg.Manager.MaxDeviceMappings)
	v.SetDefault("manager.near_miss_ratio", cfg.Manager.NearMissRatio)
	v.SetDefault("manager.search_retry", cfg.Manager.SearchRetry)
	v.SetDefault("manager.submit_retries", cfg.Manager.SubmitRetries)
	v.SetDefault("manager.expire_after", cfg.Manager.ExpireAfter)
	v.SetDefault("manager.upload_partial_size", cfg.Manager.UploadPartialSize)
	v.SetDefault("manager.max_partials", cfg.Manager.MaxPartials)
	v.SetDefault("manager.large_object_pages", cfg.Manager.LargeObjectPages)
	v.SetDefault("manager.system_memory", cfg.Manager.SystemMemory)

	v.SetDefault("device.backend", cfg.Device.Backend)
	v.SetDefault("device.gen", cfg.Device.Gen)
	v.SetDefault("device.aperture_mb", cfg.Device.ApertureMB)
	v.SetDefault("device.mappable_mb", cfg.Device.MappableMB)
	v.SetDefault("device.llc", cfg.Device.LLC)
	v.SetDefault("device.snoop", cfg.Device.Snoop)
	v.SetDefault("device.blt", cfg.Device.BLT)
	v.SetDefault("device.relaxed_fencing", cfg.Device.RelaxedFence)
	v.SetDefault("device.complete_every", cfg.Device.CompleteEvery)

	v.SetDefault("workload.frames", cfg.Workload.Frames)
	v.SetDefault("workload.draws_per_frame", cfg.Workload.DrawsPerFrame)
	v.SetDefault("workload.max_object_size", cfg.Workload.MaxObjectSize)
	v.SetDefault("workload.surface_width", cfg.Workload.SurfaceWidth)
	v.SetDefault("workload.surface_height", cfg.Workload.SurfaceHeight)
	v.SetDefault("workload.uploads_per_draw", cfg.Workload.UploadsPerDraw)
	v.SetDefault("workload.seed", cfg.Workload.Seed)

	v.SetDefault("debug.listen", cfg.Debug.Listen)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.color", cfg.Logging.Color)
}
