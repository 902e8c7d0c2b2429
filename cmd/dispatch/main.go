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
	"strings"
	"syscall"

	"github.com/nmiles2718/computesky/internal/config"
	"github.com/nmiles2718/computesky/internal/dispatch"
	"github.com/nmiles2718/computesky/internal/invoke"
	"github.com/nmiles2718/computesky/internal/logging"
	"github.com/nmiles2718/computesky/internal/mast"
	"github.com/nmiles2718/computesky/internal/storage"
)

const version = "0.3.0"

var configFile = flag.String("config", "", "read configuration from YAML `file`")
var logFile = flag.String("log", "", "save log output to `file` in addition to stderr")
var logLevel = flag.String("level", "", "log level, one of debug, info, warn, error. Overrides the configuration")

var workers = flag.Int("workers", 0, "number of concurrent invocations, 0=use configuration")
var invoker = flag.String("invoker", "", "submit invocations via `kind`: lambda or http")
var endpoint = flag.String("endpoint", "", "URL of a computesky serve endpoint, for the http invoker")
var outBucket = flag.String("outbucket", "", "bucket receiving the result tables")
var metricsFile = flag.String("metrics", "", "write Prometheus textfile metrics of each run to `file`")

var filters = flag.String("filters", "", "comma-separated filter names to query, e.g. F814W,F606W")
var productFilter = flag.String("where", "", "CEL expression each product must satisfy, e.g. product.size < 2e8")
var catalogOut = flag.String("catalog-out", "", "save the queried exposure keys to `file`")
var dryRun = flag.Bool("n", false, "query only, do not submit invocations")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `dispatch submits sky background estimates of many exposures.

Usage: %s [-flag value] (query|catalog|watch|version) (args)

Commands:
  query   Query the archive for exposures and submit one estimate each
  catalog Submit one estimate per key listed in the given files: catalog <keys.txt> ...
  watch   Submit estimates for each catalog written into a directory: watch <dir>
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

	var d *dispatch.Dispatcher
	if !*dryRun {
		inv, err := newInvoker(ctx, cfg)
		if err != nil {
			log.Fatal("creating invoker failed", "err", err)
		}
		d = dispatch.New(inv, dispatch.OptionsFromConfig(cfg.Dispatch), log.Logger)
	}
	run := func(keys []string) {
		if d == nil {
			log.Info("dry run, not submitting", "keys", len(keys))
			return
		}
		sum := d.Dispatch(ctx, keys)
		if cfg.Dispatch.MetricsFile != "" {
			if err := dispatch.WriteMetrics(cfg.Dispatch.MetricsFile, sum); err != nil {
				log.Error("writing metrics failed", "path", cfg.Dispatch.MetricsFile, "err", err)
			}
		}
	}

	switch args[0] {
	case "query":
		keys, err := query(ctx, cfg, log)
		if err != nil {
			log.Fatal("query failed", "err", err)
		}
		if *catalogOut != "" {
			if err := writeCatalog(*catalogOut, keys); err != nil {
				log.Fatal("writing catalog failed", "path", *catalogOut, "err", err)
			}
		}
		run(keys)

	case "catalog":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(2)
		}
		var keys []string
		for _, fileName := range args[1:] {
			ks, err := dispatch.ReadCatalogFile(fileName)
			if err != nil {
				log.Fatal("reading catalog failed", "err", err)
			}
			keys = append(keys, ks...)
		}
		run(keys)

	case "watch":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err := dispatch.Watch(ctx, args[1], log.Logger, func(fileName string, keys []string) {
			run(keys)
		})
		if err != nil {
			log.Fatal("watching failed", "dir", args[1], "err", err)
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
	if *workers > 0 {
		cfg.Dispatch.Workers = *workers
	}
	if *invoker != "" {
		cfg.Dispatch.Invoker = *invoker
	}
	if *endpoint != "" {
		cfg.Dispatch.Endpoint = *endpoint
	}
	if *outBucket != "" {
		cfg.Dispatch.OutputBucket = *outBucket
	}
	if *metricsFile != "" {
		cfg.Dispatch.MetricsFile = *metricsFile
	}
	if *filters != "" {
		cfg.Query.Filters = strings.Split(*filters, ",")
	}
	if *productFilter != "" {
		cfg.Query.ProductFilter = *productFilter
	}
}

func newInvoker(ctx context.Context, cfg *config.Config) (invoke.Invoker, error) {
	switch cfg.Dispatch.Invoker {
	case "http":
		return &invoke.HTTPInvoker{URL: cfg.Dispatch.Endpoint}, nil
	case "lambda":
		awsCfg, err := storage.LoadAWSConfig(ctx, storage.S3Options{Region: cfg.AWS.Region, Profile: cfg.AWS.Profile})
		if err != nil {
			return nil, err
		}
		return invoke.NewLambdaInvoker(awsCfg, cfg.Dispatch.FunctionName), nil
	}
	return nil, fmt.Errorf("unknown invoker %q", cfg.Dispatch.Invoker)
}

// Queries the archive and returns the keys of the matching exposures
func query(ctx context.Context, cfg *config.Config, log *logging.Logger) ([]string, error) {
	q := cfg.Query
	client := mast.NewClient(q.URL, q.PageSize, log.Logger)
	obs, err := client.QueryCriteria(ctx, mast.Criteria{
		ObsCollection:   q.ObsCollection,
		DataproductType: q.DataproductType,
		InstrumentName:  q.InstrumentName,
		Filters:         q.Filters,
		ProposalIDs:     q.ProposalIDs,
	})
	if err != nil {
		return nil, err
	}
	products, err := client.ProductList(ctx, obs)
	if err != nil {
		return nil, err
	}
	products, err = mast.FilterProducts(products, q.Subgroups, q.ProductFilter)
	if err != nil {
		return nil, err
	}
	uris := mast.CloudURIs(products)
	keys := make([]string, len(uris))
	for i, uri := range uris {
		keys[i] = dispatch.StripBucket(uri)
	}
	log.Info("query done", "observations", len(obs), "products", len(products), "keys", len(keys))
	return keys, nil
}

func writeCatalog(fileName string, keys []string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err := dispatch.WriteCatalog(f, keys); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
