// Command acquire runs one acquisition from the command line, or follows the
// live feed of a running server with -watch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"property-acquisition/internal/acquisition"
	"property-acquisition/internal/adapters"
	"property-acquisition/internal/adapters/stub"
	"property-acquisition/internal/adapters/vivareal"
	"property-acquisition/internal/adapters/zap"
	"property-acquisition/internal/cache"
	"property-acquisition/internal/domain"
	"property-acquisition/internal/events"
	"property-acquisition/internal/logging"
	"property-acquisition/internal/storage/memory"
	"property-acquisition/internal/validation"
)

func main() {
	city := flag.String("city", "", "City to search (required unless -watch)")
	state := flag.String("state", "SP", "State code")
	minPrice := flag.Float64("min-price", 0, "Minimum price")
	maxPrice := flag.Float64("max-price", 0, "Maximum price")
	bedrooms := flag.Int("bedrooms", 0, "Minimum bedrooms")
	bathrooms := flag.Int("bathrooms", 0, "Minimum bathrooms")
	propertyType := flag.String("type", "", "Property type (apartment, house, ...)")
	maxPages := flag.Int("max-pages", 0, "Result pages per source (0 = source default)")
	sourceList := flag.String("sources", "zap,vivareal", "Comma-separated sources: zap, vivareal, stub")
	fast := flag.Bool("fast", false, "Use the latency-bounded path")
	timeout := flag.Duration("timeout", acquisition.DefaultAcquireTimeout, "Overall acquisition timeout")
	asJSON := flag.Bool("json", false, "Print records as JSON")
	watch := flag.String("watch", "", "Follow a live feed endpoint (ws://host/api/v1/stream) instead of acquiring")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := logging.New(logging.Config{
		Writer: os.Stderr,
		Level:  logging.ParseLevel(*logLevel),
		Format: logging.FormatColor,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watch != "" {
		if err := follow(ctx, *watch, *asJSON); err != nil {
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *city == "" {
		fmt.Fprintln(os.Stderr, "-city is required")
		flag.Usage()
		os.Exit(2)
	}

	sources, err := buildSources(*sourceList, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sources: %v\n", err)
		os.Exit(1)
	}

	coord := acquisition.New(acquisition.Options{
		Sources:        sources,
		Store:          memory.NewPropertyStore(),
		Cache:          cache.NewMemory(nil),
		Runs:           memory.NewRunStore(),
		Snapshots:      memory.NewPriceSnapshotStore(),
		Logger:         logger,
		AcquireTimeout: *timeout,
	})
	defer coord.Close()

	q := domain.Query{
		City:         *city,
		State:        *state,
		PriceMin:     *minPrice,
		PriceMax:     *maxPrice,
		Bedrooms:     *bedrooms,
		Bathrooms:    *bathrooms,
		PropertyType: *propertyType,
		MaxPages:     *maxPages,
	}

	start := time.Now()
	var records []domain.PropertyRecord
	if *fast {
		records = coord.AcquireFast(ctx, q)
	} else {
		records, err = coord.Acquire(ctx, q, acquisition.AcquireOptions{Parallel: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "acquire: %v\n", err)
			os.Exit(1)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
		return
	}
	printRecords(records)
	stats := coord.Stats()
	fmt.Printf("\n%d records in %s (requests=%d errors=%d)\n",
		len(records), time.Since(start).Round(time.Millisecond), stats.TotalRequests, stats.TotalErrors)
}

func buildSources(list string, logger *slog.Logger) ([]adapters.Source, error) {
	validator, err := validation.NewRecordValidator()
	if err != nil {
		return nil, err
	}
	var out []adapters.Source
	for _, name := range strings.Split(list, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case zap.Name:
			opts := zap.Options{Logger: logger, Validator: validator}
			out = append(out, zap.New(opts), zap.NewFast(opts))
		case vivareal.Name:
			out = append(out, vivareal.New(vivareal.Options{Logger: logger, Validator: validator}))
		case "stub":
			out = append(out, stub.New("stub", stub.WithRecords(stub.Listings("stub", "São Paulo", 20)...)))
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sources in %q", list)
	}
	return out, nil
}

func printRecords(records []domain.PropertyRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tPRICE\tSIZE\tBED\tBATH\tNEIGHBORHOOD\tTITLE")
	for _, r := range records {
		source := r.Source
		if r.Synthetic {
			source += "*"
		}
		fmt.Fprintf(w, "%s\t%.0f\t%d\t%d\t%d\t%s\t%s\n",
			source, r.Price, r.Size, r.Bedrooms, r.Bathrooms, r.Neighborhood, truncate(r.Title, 48))
	}
	w.Flush()
}

func follow(ctx context.Context, endpoint string, asJSON bool) error {
	sub, err := events.Subscribe(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer sub.Close()

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if asJSON {
				if err := enc.Encode(e); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("%s %s run=%s city=%s records=%d synthetic=%t\n",
				e.At.Format(time.RFC3339), e.Type, e.RunID, e.Query.City, len(e.Records), e.Synthetic)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
