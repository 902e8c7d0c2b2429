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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/nmiles2718/computesky/internal/config"
	"github.com/nmiles2718/computesky/internal/invoke"
	"github.com/nmiles2718/computesky/internal/logging"
	"github.com/nmiles2718/computesky/internal/record"
	"github.com/nmiles2718/computesky/internal/rest"
	"github.com/nmiles2718/computesky/internal/sky"
	"github.com/nmiles2718/computesky/internal/storage"
)

const version = "0.3.0"

var configFile = flag.String("config", "", "read configuration from YAML `file`")
var logFile = flag.String("log", "", "save log output to `file` in addition to stderr")
var logLevel = flag.String("level", "", "log level, one of debug, info, warn, error. Overrides the configuration")

var combine = flag.String("combine", "", "combine chip estimates by `mode`: count (divide by chips present) or pair (always divide by two)")
var sigma = flag.Float64("sigma", 0, "clipping threshold in multiples of the scale, 0=use configuration")

var addr = flag.String("addr", "", "listen address for serve, e.g. :8080")
var workers = flag.Int("workers", 0, "number of queued estimates run concurrently by serve, 0=use configuration")
var chroot = flag.String("chroot", "", "chroot to the given `directory` before serving")
var setuid = flag.Int("setuid", -1, "setuid to the given user ID before serving, -1=don't")

func main() {
	debug.SetGCPercent(10)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `computesky estimates the sky background of two-chip HST exposures.
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (lambda|run|file|serve|legal|version) (args)

Commands:
  lambda  Serve invocations as an AWS Lambda function
  run     Estimate one exposure: run <fits_bucket> <fits_key> <output_bucket>
  file    Estimate a local exposure and print the result table: file <img.fits>
  serve   Serve estimates over HTTP
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}
	switch args[0] {
	case "legal":
		fmt.Print(legal)
		return
	case "version":
		fmt.Printf("Version %s\n", version)
		return
	case "help", "?":
		flag.Usage()
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err.Error())
		os.Exit(1)
	}
	applyFlags(cfg)

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to open logfile '%s': %s\n", cfg.Log.File, err.Error())
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := sky.OptionsFromConfig(cfg.Pipeline)
	if err != nil {
		log.Fatal("invalid pipeline options", "err", err)
	}

	start := time.Now()
	switch args[0] {
	case "lambda":
		p, err := newPipeline(ctx, cfg, opts, log)
		if err != nil {
			log.Fatal("creating pipeline failed", "err", err)
		}
		lambda.StartWithOptions(p.Handler(), lambda.WithContext(ctx))

	case "run":
		if len(args) != 4 {
			flag.Usage()
			os.Exit(2)
		}
		p, err := newPipeline(ctx, cfg, opts, log)
		if err != nil {
			log.Fatal("creating pipeline failed", "err", err)
		}
		payload := invoke.Payload{FitsBucket: args[1], FitsKey: args[2], OutputBucket: args[3]}
		res, err := p.Process(ctx, payload)
		if err != nil {
			log.Fatal("estimate failed", "key", payload.FitsKey, "err", err)
		}
		log.Info("done", "output", res.Output.String(), "after", time.Since(start).Round(time.Millisecond))

	case "file":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		p := sky.New(nil, opts, log.Logger)
		res, err := p.Estimate(args[1])
		if err != nil {
			log.Fatal("estimate failed", "file", args[1], "err", err)
		}
		if err := record.Write(os.Stdout, res.Record); err != nil {
			log.Fatal("writing table failed", "err", err)
		}

	case "serve":
		p, err := newPipeline(ctx, cfg, opts, log)
		if err != nil {
			log.Fatal("creating pipeline failed", "err", err)
		}
		if err := rest.MakeSandbox(*chroot, *setuid, log.Logger); err != nil {
			log.Fatal("sandboxing failed", "err", err)
		}
		server := rest.NewServer(p, cfg.Dispatch.Workers, log.Logger)
		if err := server.Serve(ctx, cfg.Serve.Addr); err != nil {
			log.Fatal("serving failed", "err", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// Flags given on the command line override the configuration
func applyFlags(cfg *config.Config) {
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *combine != "" {
		cfg.Pipeline.Combine = *combine
	}
	if *sigma > 0 {
		cfg.Pipeline.Sigma = *sigma
	}
	if *addr != "" {
		cfg.Serve.Addr = *addr
	}
	if *workers > 0 {
		cfg.Dispatch.Workers = *workers
	}
}

// Creates the pipeline on the configured store
func newPipeline(ctx context.Context, cfg *config.Config, opts sky.Options, log *logging.Logger) (*sky.Pipeline, error) {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sky.New(store, opts, log.Logger), nil
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Pipeline.Store == "dir" {
		return storage.DirStore{Root: cfg.Pipeline.StoreRoot}, nil
	}
	s3opts := storage.S3Options{Region: cfg.AWS.Region, Profile: cfg.AWS.Profile, Endpoint: cfg.AWS.S3Endpoint}
	awsCfg, err := storage.LoadAWSConfig(ctx, s3opts)
	if err != nil {
		return nil, err
	}
	return storage.NewS3StoreFromConfig(awsCfg, s3opts), nil
}
