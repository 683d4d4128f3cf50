package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vHozang/CheckLink/internal/config"
	"github.com/vHozang/CheckLink/internal/exporter"
	"github.com/vHozang/CheckLink/internal/probe"
	"github.com/vHozang/CheckLink/internal/storage"
	"github.com/vHozang/CheckLink/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to configuration file (defaults apply when missing)")
	input := flag.String("input", "links.txt", "File with one link per line")
	output := flag.String("output", "checked_results.txt", "File for 'url => CLASSIFICATION' lines")
	csvPath := flag.String("csv", "", "Also export results to a CSV file")
	jsonPath := flag.String("json", "", "Also export results to a JSON file")
	xlsxPath := flag.String("xlsx", "", "Also export results to an XLSX workbook")
	workers := flag.Int("workers", 0, "Worker pool size (0 = auto)")
	delay := flag.Float64("delay", -1, "Per-link delay in seconds; above zero forces serial execution")
	useProxy := flag.Bool("proxy", false, "Route requests through the configured SOCKS5 proxy")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("failed to load config: %v", err)
		}
		def := config.Default()
		cfg = &def
	}

	logger, err := config.BuildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	urls, err := readLinks(*input)
	if err != nil {
		log.Fatalf("failed to read links: %v", err)
	}
	if len(urls) == 0 {
		log.Fatalf("no links found in %s", *input)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := probe.Options{
		Client: probe.ClientConfig{
			UseProxy:       *useProxy || cfg.Proxy.Enabled,
			ProxyHostPort:  cfg.Proxy.HostPort,
			Timeout:        cfg.Probe.Timeout.Duration,
			UserAgent:      cfg.Probe.UserAgent,
			AcceptLanguage: cfg.Probe.AcceptLanguage,
		},
		Workers: *workers,
		RateLimit: probe.RateLimit{
			Requests: cfg.Probe.RateLimit.Requests,
			Window:   cfg.Probe.RateLimit.Window.Duration,
		},
		MaxBodyBytes: cfg.Probe.MaxBodyBytes,
		Logger:       logger,
	}
	if *delay >= 0 {
		d := time.Duration(*delay * float64(time.Second))
		opts.PerLinkDelay = &d
	} else {
		d := cfg.Probe.PerLinkDelay.Duration
		opts.PerLinkDelay = &d
	}

	results := probe.NewRunner(opts).CheckLinks(ctx, urls)

	for _, res := range results {
		fmt.Printf("%s => %s\n", res.NormalizedURL, res.Classification)
	}

	if err := writeResults(*output, results); err != nil {
		log.Fatalf("failed to write results: %v", err)
	}
	logger.Info("results written", "path", *output, "count", len(results))

	if err := exportResults(results, *csvPath, *jsonPath, *xlsxPath); err != nil {
		log.Fatalf("failed to export results: %v", err)
	}
}

func readLinks(path string) ([]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	seen := make(map[string]struct{})
	var urls []string
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		u := probe.Normalize(line)
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls, scanner.Err()
}

func writeResults(path string, results []types.ProbeResult) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	w := bufio.NewWriter(fh)
	for _, res := range results {
		if _, err := fmt.Fprintf(w, "%s => %s\n", res.NormalizedURL, res.Classification); err != nil {
			return err
		}
	}
	return w.Flush()
}

func exportResults(results []types.ProbeResult, csvPath, jsonPath, xlsxPath string) error {
	if csvPath == "" && jsonPath == "" && xlsxPath == "" {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]storage.CheckRow, 0, len(results))
	for _, res := range results {
		rows = append(rows, storage.CheckRow{
			URL:            res.NormalizedURL,
			FinalURL:       res.FinalURL,
			HTTPStatus:     res.HTTPStatus,
			Classification: string(res.Classification),
			Title:          res.Title,
			Error:          res.Error,
			UpdatedAt:      now,
		})
	}

	write := func(path string, fn func(fh *os.File) error) error {
		if path == "" {
			return nil
		}
		fh, err := os.Create(path)
		if err != nil {
			return err
		}
		defer fh.Close()
		return fn(fh)
	}

	if err := write(csvPath, func(fh *os.File) error { return exporter.WriteCSV(fh, rows) }); err != nil {
		return err
	}
	if err := write(jsonPath, func(fh *os.File) error { return exporter.WriteJSON(fh, rows) }); err != nil {
		return err
	}
	return write(xlsxPath, func(fh *os.File) error { return exporter.WriteXLSX(fh, rows) })
}
