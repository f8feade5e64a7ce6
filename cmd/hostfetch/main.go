package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gustycube/hostfetch/internal/config"
	"github.com/gustycube/hostfetch/internal/fetch"
	"github.com/gustycube/hostfetch/internal/health"
	"github.com/gustycube/hostfetch/internal/logging"
	"github.com/gustycube/hostfetch/internal/metrics"
	"github.com/gustycube/hostfetch/internal/output"
	"github.com/gustycube/hostfetch/internal/telemetry"
	"github.com/gustycube/hostfetch/internal/ui"
)

const version = "1.0.0"

func main() {
	var configFile string
	var urlsFile string
	var concurrency int
	var retries int
	var priority string
	var parse string
	var dedupeKey string
	var ttlMS int
	var ua string
	var metricsAddr string
	var otelEndpoint string
	var otelInsecure bool
	var otelService string
	var outputFormat string
	var logLevel string
	var debug bool
	var progress bool
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&urlsFile, "urls", "", "path to newline-separated URLs (- for stdin)")
	flag.IntVar(&concurrency, "concurrency", 0, "concurrent callers")
	flag.IntVar(&retries, "retries", -1, "retries per URL after the first attempt")
	flag.StringVar(&priority, "priority", "", "queue priority (high, low)")
	flag.StringVar(&parse, "parse", "", "body parsing (auto, json, text)")
	flag.StringVar(&dedupeKey, "dedupe_key", "", "discriminator added to the dedupe and cache key")
	flag.IntVar(&ttlMS, "ttl_ms", 0, "cache TTL in ms (negative disables caching)")
	flag.StringVar(&ua, "ua", "", "user-agent")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics and health listen addr (empty to disable)")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.StringVar(&outputFormat, "output_format", "", "output format (json, jsonl, csv)")
	flag.StringVar(&logLevel, "log_level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&debug, "debug", false, "log dispatches and rate limit warnings")
	flag.BoolVar(&progress, "progress", true, "show a progress line on stderr")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hostfetch: rate-limited HTTP fetching with per-host token buckets\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [url ...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s https://api.example.com/v1/items\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -urls=urls.txt -concurrency=64 -output_format=csv > out.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config=config.yaml -debug\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  HOSTFETCH_URLS, HOSTFETCH_CONCURRENCY, HOSTFETCH_RETRIES, HOSTFETCH_CAPACITY,\n")
		fmt.Fprintf(os.Stderr, "  HOSTFETCH_REFILL_PER_SEC, HOSTFETCH_UA, HOSTFETCH_METRICS_ADDR,\n")
		fmt.Fprintf(os.Stderr, "  HOSTFETCH_OTEL_ENDPOINT, HOSTFETCH_OUTPUT_FORMAT, HOSTFETCH_DEBUG\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL        Log level (debug, info, warn, error)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("hostfetch v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file %s: %v\n", configFile, err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	cfg.LoadFromEnv()

	// Command-line flags take precedence
	flags := make(map[string]interface{})
	if urlsFile != "" {
		flags["urls"] = urlsFile
	}
	if concurrency > 0 {
		flags["concurrency"] = concurrency
	}
	if retries >= 0 {
		flags["retries"] = retries
	}
	if priority != "" {
		flags["priority"] = priority
	}
	if parse != "" {
		flags["parse"] = parse
	}
	if dedupeKey != "" {
		flags["dedupe_key"] = dedupeKey
	}
	if ttlMS != 0 {
		flags["ttl_ms"] = ttlMS
	}
	if ua != "" {
		flags["ua"] = ua
	}
	if metricsAddr != "" {
		flags["metrics_addr"] = metricsAddr
	}
	if otelEndpoint != "" {
		flags["otel_endpoint"] = otelEndpoint
	}
	if otelService != "" {
		flags["otel_service"] = otelService
	}
	if outputFormat != "" {
		flags["output_format"] = outputFormat
	}
	if logLevel != "" {
		flags["log_level"] = logLevel
	}
	if debug {
		flags["debug"] = true
	}
	flags["otel_insecure"] = otelInsecure
	cfg.MergeWithFlags(flags)

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}
	opts, err := cfg.FetchOptions()
	if err != nil {
		log.Fatalw("invalid fetch options", "err", err)
	}
	if cfg.URLs == "" && flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}
	fetch.SetNetDebug(cfg.Debug)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.OTELService,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	client := fetch.New(append(cfg.ClientOptions(), fetch.WithLogger(log))...)
	defer client.Close()

	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("version", version)
	healthHandler.RegisterChecker("buckets", health.NewBucketChecker(client.Stats, 10*cfg.Concurrency))
	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	urls, err := collectURLs(cfg.URLs, flag.Args())
	if err != nil {
		log.Fatalw("read urls", "err", err)
	}

	w, err := output.NewStdoutWriter(cfg.OutputFormat)
	if err != nil {
		log.Fatalw("output", "err", err)
	}

	log.Infow("starting hostfetch",
		"urls", len(urls),
		"concurrency", cfg.Concurrency,
		"retries", cfg.Retries,
		"capacity", cfg.Capacity,
		"refill_per_sec", cfg.RefillPerSec,
		"config_file", configFile,
	)
	healthHandler.SetReady(true)

	bar := ui.NewProgress(os.Stderr, len(urls), progress)
	stopRender := renderLoop(bar, client)

	run(ctx, client, urls, cfg.Retries, opts, cfg.Concurrency, w, bar, log)

	stopRender()
	if err := w.Flush(); err != nil {
		log.Errorw("flush output", "err", err)
	}
	log.Infow(bar.Finish())
}

// run fetches every URL with a fixed number of callers sharing one client.
func run(ctx context.Context, client *fetch.Client, urls []string, retries int, opts fetch.Options,
	concurrency int, w *output.Writer, bar *ui.Progress, log *logging.Logger) {
	tasks := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range tasks {
				start := time.Now()
				data, err := client.Fetch(ctx, u, retries, opts)
				r := output.Result{URL: u, Data: data, ElapsedMS: time.Since(start).Milliseconds()}
				if err != nil {
					r.Error = err.Error()
					r.Status = fetch.StatusCode(err)
					log.Debugw("fetch failed", "url", u, "err", err)
				}
				if werr := w.Write(r); werr != nil {
					log.Errorw("write result", "url", u, "err", werr)
				}
				bar.Record(err != nil)
			}
		}()
	}

feed:
	for _, u := range urls {
		select {
		case <-ctx.Done():
			break feed
		case tasks <- u:
		}
	}
	close(tasks)
	wg.Wait()
}

func renderLoop(bar *ui.Progress, client *fetch.Client) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				bar.Render()
				return
			case <-ticker.C:
				cooling := 0
				for _, s := range client.Stats() {
					if !s.BlockedUntil.IsZero() {
						cooling++
					}
				}
				bar.SetCooling(cooling)
				bar.Render()
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// collectURLs merges the URL file (or stdin for "-") with positional args,
// skipping blanks and # comments.
func collectURLs(path string, args []string) ([]string, error) {
	var urls []string
	if path != "" {
		var r io.Reader = os.Stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open urls: %w", err)
			}
			defer f.Close()
			r = f
		}
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("scan urls: %w", err)
		}
	}
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			urls = append(urls, a)
		}
	}
	return urls, nil
}
