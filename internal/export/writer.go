// Package export writes computed series to CSV for downstream plotting.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/nightscout-core/internal/series"
)

var seriesHeader = []string{"time", "iob", "basal_iob", "activity", "cob", "is_decaying", "iob_source", "cob_source"}

// Writer is a CSV series writer.
type Writer struct {
	file   *os.File
	writer *csv.Writer
	logger *zap.Logger
	mu     sync.Mutex
}

// NewWriter creates a new CSV writer and emits the series header.
func NewWriter(filePath string, logger *zap.Logger) (*Writer, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(seriesHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	return &Writer{
		file:   file,
		writer: writer,
		logger: logger,
	}, nil
}

// WritePoint writes one series sample as a CSV row.
func (w *Writer) WritePoint(p series.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := []string{
		time.UnixMilli(p.Mills).UTC().Format(time.RFC3339),
		strconv.FormatFloat(p.IOB.IOB, 'f', -1, 64),
		strconv.FormatFloat(p.IOB.BasalIOB, 'f', -1, 64),
		strconv.FormatFloat(p.IOB.Activity, 'f', -1, 64),
		strconv.FormatFloat(p.COB.COB, 'f', -1, 64),
		strconv.FormatFloat(p.COB.IsDecaying, 'f', -1, 64),
		string(p.IOB.Source),
		string(p.COB.Source),
	}
	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record to CSV: %w", err)
	}
	return nil
}

// WriteSeries writes every point of a built series.
func (w *Writer) WriteSeries(result series.Result) error {
	for _, p := range result.Points {
		if err := w.WritePoint(p); err != nil {
			return err
		}
	}
	w.logger.Info("series exported",
		zap.Int("points", len(result.Points)),
		zap.Float64("max_iob", result.MaxIOB),
		zap.Float64("max_cob", result.MaxCOB),
	)
	return nil
}

// Flush flushes any buffered data to the underlying file.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
}

// Close closes the file.
func (w *Writer) Close() error {
	w.Flush()
	return w.file.Close()
}
