package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Mindburn-Labs/dccvalidate/pkg/config"
	"github.com/Mindburn-Labs/dccvalidate/pkg/fetch"
	"github.com/Mindburn-Labs/dccvalidate/pkg/observability"
	"github.com/Mindburn-Labs/dccvalidate/pkg/rulecache"
	"github.com/Mindburn-Labs/dccvalidate/pkg/rules"
	"github.com/Mindburn-Labs/dccvalidate/pkg/store"
	"github.com/Mindburn-Labs/dccvalidate/pkg/validation"
)

type validateOutput struct {
	Report *validation.Report `json:"report,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// runValidateCmd implements `hcert validate`.
//
// Package location, store and policy come from HCERT_* variables or -config.
//
// Exit codes:
//
//	0 = passed
//	1 = open, failed or not validated
//	2 = runtime error
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		country    string
		clockArg   string
		dscPaths   string
		pkgCert    string
	)
	cmd.StringVar(&configPath, "config", "", "YAML configuration file")
	cmd.StringVar(&country, "country", "", "Arrival country (REQUIRED)")
	cmd.StringVar(&clockArg, "clock", "", "Validation time, RFC 3339 (default now)")
	cmd.StringVar(&dscPaths, "dsc", "", "Comma-separated PEM files of document signer certificates (REQUIRED)")
	cmd.StringVar(&pkgCert, "package-cert", "", "PEM file of the package signer certificate (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if country == "" || dscPaths == "" || pkgCert == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --country, --dsc and --package-cert are required")
		return 2
	}

	cfg := config.Load()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	logger := cfg.Logger(stderr)

	var clock time.Time
	if clockArg != "" {
		var err error
		if clock, err = time.Parse(time.RFC3339, clockArg); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --clock: %v\n", err)
			return 2
		}
	}

	text, err := credentialArg(cmd.Args(), nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	dscKeys, err := loadKeyRing(strings.Split(dscPaths, ",")...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	pkgKeys, err := loadKeyRing(pkgCert)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	if cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.FetchTimeout)
		defer cancel()
	}

	telemetryCfg := observability.DefaultConfig()
	telemetryCfg.Enabled = cfg.Telemetry
	telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	telemetry, err := observability.New(ctx, telemetryCfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	fetcher, err := fetch.Open(ctx, cfg.BaseURL, fetch.HTTPConfig{
		Timeout: cfg.FetchTimeout,
		RPS:     cfg.FetchRPS,
		Logger:  logger,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cache, err := store.Open(ctx, cfg.Store, cfg.StoreDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if c, ok := cache.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	v, err := validation.New(validation.Config{
		Caches: rulecache.NewSet(rulecache.Options{
			Fetcher:   fetcher,
			Store:     cache,
			Keys:      pkgKeys,
			Logger:    logger.With("component", "rulecache"),
			Telemetry: telemetry,
			Timeout:   cfg.FetchTimeout,
		}),
		Keys:          dscKeys,
		CountryPolicy: validation.CountryPolicy(cfg.CountryPolicy),
		Logger:        logger.With("component", "validation"),
		Telemetry:     telemetry,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report, verr := v.Validate(ctx, validation.Request{Credential: text, Country: country, Clock: clock})

	out := validateOutput{Report: report}
	if verr != nil {
		out.Error = verr.Error()
		var kindErr *validation.Error
		if errors.As(verr, &kindErr) {
			out.Error = kindErr.Code() + ": " + verr.Error()
		}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if verr == nil && report.Status == rules.StatusPassed {
		return 0
	}
	return 1
}
