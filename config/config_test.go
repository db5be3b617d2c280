package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// Missing data source DNS
	cnf := Configuration{
		Redis: RedisConfig{Dns: "localhost:6379"},
	}
	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	// Missing redis DNS
	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	// All required fields filled, expect no error and the defaults.
	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource:  DataSourceConfig{Dns: "some-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
	if cnf.Upload.MaxRowsPerSheet != DefaultMaxRowsPerSheet {
		t.Errorf("Expected default row ceiling %d, got %d", DefaultMaxRowsPerSheet, cnf.Upload.MaxRowsPerSheet)
	}
	if cnf.Upload.MaxColumns != DefaultMaxColumns {
		t.Errorf("Expected default column ceiling %d, got %d", DefaultMaxColumns, cnf.Upload.MaxColumns)
	}
	if cnf.Upload.MaxFileBytes != DefaultMaxFileBytes {
		t.Errorf("Expected default file size cap %d, got %d", DefaultMaxFileBytes, cnf.Upload.MaxFileBytes)
	}
	if cnf.Extractor.TimeoutSec != 30 {
		t.Errorf("Expected default extractor timeout 30, got %d", cnf.Extractor.TimeoutSec)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "tally.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
		Reconciliation: ReconciliationPolicy{
			PreserveResolutionsOnReupload: true,
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(&sampleConfig); err != nil {
		t.Fatalf("Unable to write sample config: %v", err)
	}
	tmpFile.Close()

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loaded, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if loaded.ProjectName != "Temp Project" {
		t.Errorf("Expected project name 'Temp Project', got %s", loaded.ProjectName)
	}
	if !loaded.Reconciliation.PreserveResolutionsOnReupload {
		t.Error("Expected preserve_resolutions_on_reupload to be true")
	}
}
