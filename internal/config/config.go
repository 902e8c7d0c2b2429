// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads the settings of the pipeline and the dispatch driver from
// an optional YAML file, overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nmiles2718/computesky/internal/logging"
	"github.com/nmiles2718/computesky/internal/stats"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultRegion         = "us-east-1"
	DefaultInputBucket    = "stpubdata"
	DefaultOutputBucket   = "compute-sky-lambda"
	DefaultFunctionName   = "compute_sky"
	DefaultWorkers        = 2
	DefaultInvokeTimeout  = 30 * time.Second
	DefaultMemoryFraction = 0.5
	DefaultMASTURL        = "https://mast.stsci.edu/api/v0/invoke"
	DefaultPageSize       = 50000
	DefaultServeAddr      = ":8080"
)

// Prefix of all environment overrides
const EnvPrefix = "COMPUTESKY_"

// Config is the top-level configuration of both binaries
type Config struct {
	Log      logging.Options `yaml:"log"`
	AWS      AWSConfig       `yaml:"aws"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Dispatch DispatchConfig  `yaml:"dispatch"`
	Query    QueryConfig     `yaml:"query"`
	Serve    ServeConfig     `yaml:"serve"`
}

// AWSConfig selects the AWS account and endpoints
type AWSConfig struct {
	Region     string `yaml:"region"`
	Profile    string `yaml:"profile"`     // Shared config profile, empty for the default chain
	S3Endpoint string `yaml:"s3_endpoint"` // For S3-compatible stores
}

// PipelineConfig holds the settings of the background estimate
type PipelineConfig struct {
	Sigma    float64 `yaml:"sigma"`
	MaxIters int     `yaml:"max_iters"`
	Center   string  `yaml:"center"`  // median or mean
	Scale    string  `yaml:"scale"`   // mad or stddev
	Combine  string  `yaml:"combine"` // count or pair

	// Bill transfers of the input exposure to the requester, as the public HST bucket requires
	RequesterPays bool `yaml:"requester_pays"`

	// Store is s3, or dir for a local directory tree under StoreRoot
	Store     string `yaml:"store"`
	StoreRoot string `yaml:"store_root"`

	TempDir string `yaml:"temp_dir"`

	// Largest share of physical memory the decoded images may occupy
	MemoryFraction float64 `yaml:"memory_fraction"`
}

// ClipOptions returns the sigma clipping options
func (p PipelineConfig) ClipOptions() (stats.ClipOptions, error) {
	center, err := stats.ParseCenter(p.Center)
	if err != nil {
		return stats.ClipOptions{}, err
	}
	scale, err := stats.ParseScale(p.Scale)
	if err != nil {
		return stats.ClipOptions{}, err
	}
	return stats.ClipOptions{Sigma: p.Sigma, MaxIters: p.MaxIters, Center: center, Scale: scale}, nil
}

// CombineMode returns how chip estimates are combined
func (p PipelineConfig) CombineMode() (stats.CombineMode, error) {
	return stats.ParseCombineMode(p.Combine)
}

// DispatchConfig holds the settings of the dispatch driver
type DispatchConfig struct {
	Workers      int           `yaml:"workers"`
	Invoker      string        `yaml:"invoker"`       // lambda or http
	FunctionName string        `yaml:"function_name"` // Lambda function, for the lambda invoker
	Endpoint     string        `yaml:"endpoint"`      // URL of a computesky serve endpoint, for the http invoker
	InputBucket  string        `yaml:"input_bucket"`
	OutputBucket string        `yaml:"output_bucket"`
	Timeout      time.Duration `yaml:"timeout"`      // Per invocation
	MetricsFile  string        `yaml:"metrics_file"` // Optional Prometheus textfile written after each run
}

// QueryConfig holds the archive query criteria
type QueryConfig struct {
	URL             string   `yaml:"url"`
	PageSize        int      `yaml:"page_size"`
	ObsCollection   string   `yaml:"obs_collection"`
	DataproductType string   `yaml:"dataproduct_type"`
	InstrumentName  string   `yaml:"instrument_name"`
	Filters         []string `yaml:"filters"`
	ProposalIDs     []string `yaml:"proposal_ids"`
	Subgroups       []string `yaml:"subgroups"`      // Product subgroup descriptions to keep, e.g. FLT
	ProductFilter   string   `yaml:"product_filter"` // Optional CEL expression over each product
}

// ServeConfig holds the REST endpoint settings
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML config file at path, if path is not empty, then applies
// environment overrides. Missing fields are filled with defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}
	applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values
func Defaults() *Config {
	return &Config{
		Log: logging.Options{Level: "info", Format: "text"},
		AWS: AWSConfig{Region: DefaultRegion},
		Pipeline: PipelineConfig{
			Sigma:          5,
			MaxIters:       5,
			Center:         "median",
			Scale:          "mad",
			Combine:        "count",
			RequesterPays:  true,
			Store:          "s3",
			TempDir:        os.TempDir(),
			MemoryFraction: DefaultMemoryFraction,
		},
		Dispatch: DispatchConfig{
			Workers:      DefaultWorkers,
			Invoker:      "lambda",
			FunctionName: DefaultFunctionName,
			InputBucket:  DefaultInputBucket,
			OutputBucket: DefaultOutputBucket,
			Timeout:      DefaultInvokeTimeout,
		},
		Query: QueryConfig{
			URL:             DefaultMASTURL,
			PageSize:        DefaultPageSize,
			ObsCollection:   "HST",
			DataproductType: "image",
			InstrumentName:  "ACS/WFC",
			Filters:         []string{"F814W"},
			Subgroups:       []string{"FLT"},
		},
		Serve: ServeConfig{Addr: DefaultServeAddr},
	}
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	cfg.AWS.Region = getEnv("REGION", cfg.AWS.Region)
	cfg.AWS.Profile = getEnv("PROFILE", cfg.AWS.Profile)
	cfg.AWS.S3Endpoint = getEnv("S3_ENDPOINT", cfg.AWS.S3Endpoint)

	p := &cfg.Pipeline
	p.Sigma = getEnvFloat("SIGMA", p.Sigma)
	p.MaxIters = getEnvInt("MAX_ITERS", p.MaxIters)
	p.Center = getEnv("CLIP_CENTER", p.Center)
	p.Scale = getEnv("CLIP_SCALE", p.Scale)
	p.Combine = getEnv("COMBINE", p.Combine)
	p.RequesterPays = getEnvBool("REQUESTER_PAYS", p.RequesterPays)
	p.Store = getEnv("STORE", p.Store)
	p.StoreRoot = getEnv("STORE_ROOT", p.StoreRoot)
	p.TempDir = getEnv("TEMP_DIR", p.TempDir)
	p.MemoryFraction = getEnvFloat("MEMORY_FRACTION", p.MemoryFraction)

	d := &cfg.Dispatch
	d.Workers = getEnvInt("WORKERS", d.Workers)
	d.Invoker = getEnv("INVOKER", d.Invoker)
	d.FunctionName = getEnv("FUNCTION_NAME", d.FunctionName)
	d.Endpoint = getEnv("ENDPOINT", d.Endpoint)
	d.InputBucket = getEnv("INPUT_BUCKET", d.InputBucket)
	d.OutputBucket = getEnv("OUTPUT_BUCKET", d.OutputBucket)
	d.Timeout = getEnvDuration("TIMEOUT", d.Timeout)
	d.MetricsFile = getEnv("METRICS_FILE", d.MetricsFile)

	cfg.Query.URL = getEnv("MAST_URL", cfg.Query.URL)
	cfg.Query.ProductFilter = getEnv("PRODUCT_FILTER", cfg.Query.ProductFilter)

	cfg.Serve.Addr = getEnv("SERVE_ADDR", cfg.Serve.Addr)
}

// validate checks required fields and structural constraints
func validate(cfg *Config) error {
	p := cfg.Pipeline
	if p.Sigma <= 0 {
		return fmt.Errorf("pipeline.sigma must be positive")
	}
	if p.MaxIters < 0 {
		return fmt.Errorf("pipeline.max_iters must not be negative")
	}
	if _, err := p.ClipOptions(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if _, err := p.CombineMode(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	switch p.Store {
	case "s3":
	case "dir":
		if p.StoreRoot == "" {
			return fmt.Errorf("pipeline.store_root is required for store dir")
		}
	default:
		return fmt.Errorf("pipeline.store: unknown store %q", p.Store)
	}
	if p.MemoryFraction <= 0 || p.MemoryFraction > 1 {
		return fmt.Errorf("pipeline.memory_fraction must be in (0,1]")
	}

	d := cfg.Dispatch
	if d.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be positive")
	}
	switch d.Invoker {
	case "lambda":
		if d.FunctionName == "" {
			return fmt.Errorf("dispatch.function_name is required for invoker lambda")
		}
	case "http":
		if d.Endpoint == "" {
			return fmt.Errorf("dispatch.endpoint is required for invoker http")
		}
	default:
		return fmt.Errorf("dispatch.invoker: unknown invoker %q", d.Invoker)
	}
	if d.InputBucket == "" || d.OutputBucket == "" {
		return fmt.Errorf("dispatch.input_bucket and dispatch.output_bucket are required")
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("dispatch.timeout must be positive")
	}

	if cfg.Query.PageSize <= 0 {
		return fmt.Errorf("query.page_size must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(EnvPrefix + key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
