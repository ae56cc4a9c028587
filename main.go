package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"powerflow/config"
	"powerflow/logger"
	"powerflow/models"
	"powerflow/processor"
	"powerflow/reader/miso"
	"powerflow/scheduler"
	"powerflow/writer"
)

const dateLayout = "2006-01-02"

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	backfill := flag.Bool("backfill", false, "Run a historical backfill instead of an ingestion cycle")
	start := flag.String("start", "", "Backfill range start (YYYY-MM-DD)")
	end := flag.String("end", "", "Backfill range end (YYYY-MM-DD)")
	reportList := flag.String("reports", "", "Comma-separated report families to backfill (default set when empty)")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Powerflow.Name,
		"version":     cfg.Powerflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting powerflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	store, err := writer.Connect(ctx, cfg.Storage.Postgres)
	if err != nil {
		log.WithError(err).Error("failed to connect to storage")
		os.Exit(1)
	}
	defer store.Close()

	if cfg.Storage.Postgres.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			log.WithError(err).Error("failed to ensure storage schema")
			os.Exit(1)
		}
	}

	client := miso.NewClient(cfg)
	sched := scheduler.New(cfg, client, processor.NewNormalizer(), store)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	// One invocation is one cycle (or one backfill); periodic runs are
	// an external scheduler's job.
	if *backfill {
		runBackfill(ctx, log, sched, *start, *end, *reportList)
	} else {
		results, err := sched.RunCycle(ctx)
		if err != nil {
			log.WithError(err).Error("cycle failed")
			os.Exit(1)
		}
		for _, res := range results {
			if res.Err != nil {
				log.WithError(res.Err).WithFields(logger.Fields{
					"series": string(res.Series),
					"stage":  string(res.Stage),
				}).Warn("series skipped this cycle")
			}
		}
	}

	log.Info("powerflow stopped")
}

func runBackfill(ctx context.Context, log *logger.Log, sched *scheduler.Scheduler, start, end, reportList string) {
	from, err := time.ParseInLocation(dateLayout, start, models.EST)
	if err != nil {
		log.WithError(err).Error("invalid -start date")
		os.Exit(1)
	}
	to, err := time.ParseInLocation(dateLayout, end, models.EST)
	if err != nil {
		log.WithError(err).Error("invalid -end date")
		os.Exit(1)
	}

	var reports []models.Report
	if reportList != "" {
		known := map[models.Report]bool{}
		for _, r := range models.AllReports() {
			known[r] = true
		}
		for _, name := range strings.Split(reportList, ",") {
			report := models.Report(strings.TrimSpace(name))
			if !known[report] {
				log.WithFields(logger.Fields{"report": string(report)}).Error("unknown report family")
				os.Exit(1)
			}
			reports = append(reports, report)
		}
	}

	result, err := sched.RunBackfill(ctx, from, to, reports)
	if err != nil {
		log.WithError(err).Error("backfill failed")
		os.Exit(1)
	}
	for _, failure := range result.Failed {
		log.WithError(failure.Err).WithFields(logger.Fields{
			"report": string(failure.Ref.Report),
			"date":   failure.Ref.Date.Format(dateLayout),
		}).Warn("report file skipped")
	}
	log.WithFields(logger.Fields{
		"files":    result.Files,
		"parsed":   result.Parsed,
		"failed":   len(result.Failed),
		"upserted": result.Upserted,
		"rejected": result.Rejected,
	}).Info("backfill completed")
}
