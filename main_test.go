package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-pipeline/config"
	"trip-pipeline/models"
	"trip-pipeline/services"
	"trip-pipeline/utils"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.Load()
	cfg.RawInputPath = filepath.Join(dir, "train.csv")
	cfg.CleanedOutputPath = filepath.Join(dir, "cleaned.csv")
	cfg.ReportPath = filepath.Join(dir, "cleaning_log.txt")
	cfg.OutputFormat = "csv"
	cfg.FarePolicy = "linear"
	cfg.PeakPolicy = "topk"
	cfg.PeakTopK = 2
	return cfg
}

func TestCleanSinkFailureWritesFailedReport(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.RawInputPath,
		[]byte("pickup_datetime,trip_distance_km,trip_duration_sec,passenger_count\n2016-01-01 09:00:00,5,600,1\n"), 0o644))
	cfg.OutputFormat = "xml"

	report, err := clean(context.Background(), cfg, utils.Discard())
	require.Error(t, err)

	var stageErr *services.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, models.StagePersisted, stageErr.Stage)
	require.NotNil(t, report)
	assert.Equal(t, models.StatusFailed, report.Status)

	text, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Status: failed")
	assert.Contains(t, string(text), `unknown output format "xml"`)
	assert.FileExists(t, cfg.ReportPath+".json")
	assert.NoFileExists(t, cfg.CleanedOutputPath)
}

func TestCleanMissingInputWritesFailedReport(t *testing.T) {
	cfg := testConfig(t)

	report, err := clean(context.Background(), cfg, utils.Discard())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	require.NotNil(t, report)
	assert.Equal(t, models.StatusFailed, report.Status)

	text, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Status: failed")
}
