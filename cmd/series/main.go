package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/nightscout-core/internal/cob"
	"github.com/your-org/nightscout-core/internal/config"
	"github.com/your-org/nightscout-core/internal/datastore"
	"github.com/your-org/nightscout-core/internal/export"
	"github.com/your-org/nightscout-core/internal/iob"
	"github.com/your-org/nightscout-core/internal/models"
	"github.com/your-org/nightscout-core/internal/profile"
	"github.com/your-org/nightscout-core/internal/report"
	"github.com/your-org/nightscout-core/internal/series"
	"github.com/your-org/nightscout-core/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/app_config.yaml", "path to the YAML config file")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// If config fails to load, we can't even start the logger properly.
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Logger Setup ---
	l := logger.NewLogger(cfg.LogLevel)
	logger.SetGlobalLogLevel(cfg.LogLevel)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		l.Fatalf("Failed to initialize zap logger: %v", err)
	}
	defer zapLogger.Sync()

	// --- Load Fixtures ---
	treatments, err := datastore.ReadTreatments(cfg.Input.TreatmentsPath)
	if err != nil {
		l.Fatalf("Failed to load treatments: %v", err)
	}
	statuses, err := datastore.ReadDeviceStatuses(cfg.Input.DeviceStatusPath)
	if err != nil {
		l.Fatalf("Failed to load device statuses: %v", err)
	}
	records, err := datastore.ReadProfiles(cfg.Input.ProfilesPath)
	if err != nil {
		l.Fatalf("Failed to load profiles: %v", err)
	}
	l.Infof("Loaded %d treatments, %d device statuses, %d profile records.",
		len(treatments), len(statuses), len(records))

	// --- Wire the Engines ---
	store := profile.NewStore()
	store.LoadData(records)
	store.UpdateTreatments(treatments)

	iobCalc := iob.NewCalculator(store)
	cobCalc := cob.NewCalculator(store, iobCalc)
	builder := series.NewBuilder(iobCalc, cobCalc, cfg.IntervalMinutes)

	// --- Series Window ---
	endMills := latestMills(treatments, statuses)
	if endMills == 0 {
		endMills = time.Now().UnixMilli()
	}
	startMills := endMills - int64(cfg.WindowHours)*3600000

	l.Infof("Building series from %s to %s every %d minutes.",
		time.UnixMilli(startMills).UTC().Format(time.RFC3339),
		time.UnixMilli(endMills).UTC().Format(time.RFC3339),
		cfg.IntervalMinutes)

	result := builder.Build(treatments, statuses, startMills, endMills, cfg.ProfileOverride)

	// --- Export ---
	writer, err := export.NewWriter(cfg.Output.SeriesCSVPath, zapLogger)
	if err != nil {
		l.Fatalf("Failed to open series CSV: %v", err)
	}
	if err := writer.WriteSeries(result); err != nil {
		writer.Close()
		l.Fatalf("Failed to export series: %v", err)
	}
	if err := writer.Close(); err != nil {
		l.Errorf("Failed to close series CSV: %v", err)
	}

	// --- Report ---
	summary := report.Summarize(result, treatments, startMills, endMills)
	fmt.Print(summary.Render())
}

// latestMills returns the newest timestamp across the loaded inputs.
func latestMills(treatments []models.Treatment, statuses []models.DeviceStatus) int64 {
	var latest int64
	for i := range treatments {
		if treatments[i].Mills > latest {
			latest = treatments[i].Mills
		}
	}
	for i := range statuses {
		if statuses[i].Mills > latest {
			latest = statuses[i].Mills
		}
	}
	return latest
}
