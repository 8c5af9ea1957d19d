package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"obscatalog/config"
	"obscatalog/internal/coldstore"
	"obscatalog/internal/errs"
	"obscatalog/internal/extract"
	"obscatalog/internal/hotstore"
	"obscatalog/internal/logger"
	"obscatalog/internal/metrics"
	"obscatalog/internal/reconcile"
	"obscatalog/internal/runner"
	"obscatalog/internal/secrets"
	"obscatalog/internal/source/splunk"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s, trying default locations", configArg)
	}

	if _, err := os.Stat("obscatalog.yml"); err == nil {
		return "obscatalog.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), "obscatalog.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "obscatalog.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.Exporter.Splunk.Port == 0 {
		cfg.Exporter.Splunk.Port = 8089
	}
	if cfg.Exporter.Splunk.Scheme == "" {
		cfg.Exporter.Splunk.Scheme = "https"
	}
	if cfg.Exporter.Splunk.RequestTimeout <= 0 {
		cfg.Exporter.Splunk.RequestTimeout = 60 * time.Second
	}
	if cfg.Exporter.Splunk.PollInterval <= 0 {
		cfg.Exporter.Splunk.PollInterval = 2 * time.Second
	}

	if cfg.Exporter.HotStore.Addr == "" {
		cfg.Exporter.HotStore.Addr = "127.0.0.1:6379"
	}
	if cfg.Exporter.HotStore.KeyPrefix == "" {
		cfg.Exporter.HotStore.KeyPrefix = "obscatalog:hot"
	}
	if cfg.Exporter.HotStore.RetentionDays <= 0 {
		cfg.Exporter.HotStore.RetentionDays = 90
	}
	if cfg.Exporter.HotStore.OpTimeout <= 0 {
		cfg.Exporter.HotStore.OpTimeout = 10 * time.Second
	}

	if cfg.Exporter.Archive.Backend == "" {
		cfg.Exporter.Archive.Backend = "s3"
	}
	if cfg.Exporter.Archive.Prefix == "" {
		cfg.Exporter.Archive.Prefix = "observables"
	}
	if cfg.Exporter.Archive.Region == "" {
		cfg.Exporter.Archive.Region = "us-east-1"
	}

	if cfg.Exporter.Pipeline.Workers <= 0 {
		cfg.Exporter.Pipeline.Workers = 8
	}
	if cfg.Exporter.Pipeline.LookbackDays <= 0 {
		cfg.Exporter.Pipeline.LookbackDays = 1
	}

	if cfg.Exporter.Metrics.Addr == "" {
		cfg.Exporter.Metrics.Addr = ":9187"
	}
	if cfg.Exporter.Logging.Level == "" {
		cfg.Exporter.Logging.Level = "info"
	}

	// Secrets never have to live in the config file.
	if v := os.Getenv("OBSCATALOG_SPLUNK_PASSWORD"); v != "" {
		cfg.Exporter.Splunk.Password = v
	}
	if v := os.Getenv("OBSCATALOG_REDIS_PASSWORD"); v != "" {
		cfg.Exporter.HotStore.Password = v
	}
}

// splunkSource wires credential lookup, the search session, and
// extraction into the runner's Source contract.
type splunkSource struct {
	cfg          config.SplunkConfig
	region       string
	lookbackDays int
	extractor    *extract.Extractor
}

func (s *splunkSource) credentials(ctx context.Context) (splunk.Credentials, error) {
	if s.cfg.SecretName != "" {
		client, err := secrets.NewClient(ctx, s.region)
		if err != nil {
			return splunk.Credentials{}, err
		}
		return secrets.SplunkCredentials(ctx, client, s.cfg.SecretName)
	}
	return splunk.Credentials{
		Host:     s.cfg.Host,
		Port:     s.cfg.Port,
		Username: s.cfg.Username,
		Password: s.cfg.Password,
		Scheme:   s.cfg.Scheme,
	}, nil
}

func (s *splunkSource) query() (string, error) {
	if s.cfg.QueryFile != "" {
		raw, err := os.ReadFile(s.cfg.QueryFile)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		return string(raw), nil
	}
	if strings.TrimSpace(s.cfg.Query) == "" {
		return "", fmt.Errorf("splunk query is empty (set query or query_file)")
	}
	return s.cfg.Query, nil
}

func (s *splunkSource) Fetch(ctx context.Context) (extract.Result, error) {
	creds, err := s.credentials(ctx)
	if err != nil {
		return extract.Result{}, errs.SourceUnavailable("resolve splunk credentials", err)
	}

	rawQuery, err := s.query()
	if err != nil {
		return extract.Result{}, errs.SourceUnavailable("load search query", err)
	}

	session, err := splunk.Connect(ctx, creds, splunk.Options{
		RequestTimeout: s.cfg.RequestTimeout,
		PollInterval:   s.cfg.PollInterval,
		InsecureTLS:    s.cfg.InsecureTLS,
	})
	if err != nil {
		return extract.Result{}, errs.SourceUnavailable("connect to splunk", err)
	}

	now := time.Now().UTC()
	earliest := now.AddDate(0, 0, -s.lookbackDays)
	stream, err := session.Search(ctx, splunk.NormalizeQuery(rawQuery, s.lookbackDays), earliest, now)
	if err != nil {
		return extract.Result{}, errs.SourceUnavailable("execute splunk search", err)
	}

	return s.extractor.Extract(ctx, stream)
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (coldstore.Archive, error) {
	switch cfg.Backend {
	case "s3":
		return coldstore.NewS3Archive(ctx, coldstore.S3Config{
			Bucket:       cfg.Bucket,
			Prefix:       cfg.Prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
			OpTimeout:    cfg.OpTimeout,
		})
	case "local":
		if cfg.Path == "" {
			return nil, fmt.Errorf("archive.path is required for the local backend")
		}
		return coldstore.NewLocalArchive(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}

func run() int {
	configArg := flag.String("config", "", "Path to configuration file")
	lookback := flag.Int("lookback", 0, "Days to look back (overrides config)")
	format := flag.String("format", "", "Export format: all|hot|cold (overrides config)")
	dryRun := flag.Bool("dry-run", false, "Extract and report without writing to any store")
	flag.Parse()

	configPath := findConfigFile(*configArg)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	applyDefaults(cfg)

	if *lookback > 0 {
		cfg.Exporter.Pipeline.LookbackDays = *lookback
	}
	exportFormat := runner.FormatAll
	if *format != "" {
		exportFormat = *format
	}
	switch exportFormat {
	case runner.FormatAll, runner.FormatHot, runner.FormatCold:
	default:
		log.Printf("Unknown export format: %s", exportFormat)
		return 2
	}

	if err := logger.Init(logger.Config{
		Enabled: cfg.Exporter.Logging.Enabled,
		Level:   cfg.Exporter.Logging.Level,
		File:    cfg.Exporter.Logging.File,
		Console: cfg.Exporter.Logging.Console,
	}); err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}

	logger.Infof("Observable catalog export starting")
	logger.Infof("Config loaded from: %s", configPath)

	m := metrics.New()
	if cfg.Exporter.Metrics.Enabled {
		m.Serve(cfg.Exporter.Metrics.Addr)
		logger.Infof("Metrics listening on %s", cfg.Exporter.Metrics.Addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warnf("Received %s, cancelling run", sig)
		cancel()
	}()

	hot, err := hotstore.NewStore(hotstore.Config{
		Addr:      cfg.Exporter.HotStore.Addr,
		Password:  cfg.Exporter.HotStore.Password,
		DB:        cfg.Exporter.HotStore.DB,
		KeyPrefix: cfg.Exporter.HotStore.KeyPrefix,
		Retention: time.Duration(cfg.Exporter.HotStore.RetentionDays) * 24 * time.Hour,
		ScanBatch: cfg.Exporter.HotStore.ScanBatch,
		OpTimeout: cfg.Exporter.HotStore.OpTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create hot store: %v", err)
		return 1
	}
	defer hot.Close()

	archive, err := buildArchive(ctx, cfg.Exporter.Archive)
	if err != nil {
		logger.Errorf("Failed to create archive: %v", err)
		return 1
	}

	source := &splunkSource{
		cfg:          cfg.Exporter.Splunk,
		region:       cfg.Exporter.Archive.Region,
		lookbackDays: cfg.Exporter.Pipeline.LookbackDays,
		extractor:    extract.New(),
	}

	r := runner.New(source, hot, reconcile.New(hot, archive, m), m, runner.Options{
		Workers: cfg.Exporter.Pipeline.Workers,
		Format:  exportFormat,
		DryRun:  *dryRun,
	})

	result := r.Run(ctx)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Errorf("Failed to encode run result: %v", err)
		return 1
	}
	fmt.Println(string(out))

	if !result.Success {
		logger.Errorf("Run failed: %s", result.FatalError)
		return 1
	}
	logger.Infof("Run completed: %d merged, %d failed, reconciled=%v",
		result.HotMergesOK, result.HotMergeFailed, result.Reconciliation.Ran)
	return 0
}

func main() {
	os.Exit(run())
}
