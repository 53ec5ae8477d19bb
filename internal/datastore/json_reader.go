// Package datastore loads Nightscout API document arrays from JSON fixture
// files into the engine's in-memory input lists.
package datastore

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/your-org/nightscout-core/internal/models"
	"github.com/your-org/nightscout-core/pkg/logger"
)

// readDocuments reads a JSON array file into raw per-document messages so a
// single malformed document can be skipped without losing the rest.
func readDocuments(filePath string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture file: %w", err)
	}
	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse fixture array %s: %w", filePath, err)
	}
	return docs, nil
}

// ReadTreatments loads a treatments fixture, skipping malformed documents
// with a warning, and returns the list sorted ascending by timestamp. The
// ascending order is the caller contract the engines rely on.
func ReadTreatments(filePath string) ([]models.Treatment, error) {
	docs, err := readDocuments(filePath)
	if err != nil {
		return nil, err
	}

	treatments := make([]models.Treatment, 0, len(docs))
	for i, doc := range docs {
		var t models.Treatment
		if err := json.Unmarshal(doc, &t); err != nil {
			logger.Warnf("skipping malformed treatment document %d in %s: %v", i, filePath, err)
			continue
		}
		if t.Mills == 0 {
			logger.Warnf("skipping treatment document %d in %s: no timestamp", i, filePath)
			continue
		}
		treatments = append(treatments, t)
	}

	sort.SliceStable(treatments, func(i, j int) bool {
		return treatments[i].Mills < treatments[j].Mills
	})
	return treatments, nil
}

// ReadDeviceStatuses loads a devicestatus fixture, skipping malformed
// documents with a warning.
func ReadDeviceStatuses(filePath string) ([]models.DeviceStatus, error) {
	docs, err := readDocuments(filePath)
	if err != nil {
		return nil, err
	}

	statuses := make([]models.DeviceStatus, 0, len(docs))
	for i, doc := range docs {
		var ds models.DeviceStatus
		if err := json.Unmarshal(doc, &ds); err != nil {
			logger.Warnf("skipping malformed devicestatus document %d in %s: %v", i, filePath, err)
			continue
		}
		statuses = append(statuses, ds)
	}
	return statuses, nil
}

// ReadProfiles loads a profile-record fixture, skipping malformed documents
// with a warning. Record normalization (legacy flat fields, default profile
// name) happens in the profile store, not here.
func ReadProfiles(filePath string) ([]models.ProfileRecord, error) {
	docs, err := readDocuments(filePath)
	if err != nil {
		return nil, err
	}

	records := make([]models.ProfileRecord, 0, len(docs))
	for i, doc := range docs {
		var rec models.ProfileRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			logger.Warnf("skipping malformed profile document %d in %s: %v", i, filePath, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
