/*
Copyright 2025 Tally Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"

	// Parser ceilings. Files beyond these are rejected outright.
	DefaultMaxRowsPerSheet = 50000
	DefaultMaxColumns      = 100
	DefaultPreviewRows     = 25
	DefaultMaxFileBytes    = 25 << 20 // 25MB, enforced before parsing
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"TALLY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"TALLY_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"TALLY_SERVER_PORT"`
	SSL       bool   `json:"ssl" envconfig:"TALLY_SERVER_SSL"`
	Domain    string `json:"domain" envconfig:"TALLY_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"TALLY_SERVER_SSL_EMAIL"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"TALLY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"TALLY_REDIS_DNS"`
}

// ExtractorConfig points at the vision/OCR collaborator used for
// PDF and image sources.
type ExtractorConfig struct {
	Url        string `json:"url" envconfig:"TALLY_EXTRACTOR_URL"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"TALLY_EXTRACTOR_TIMEOUT_SEC"`
}

type S3Config struct {
	AccessKeyId     string `json:"access_key_id" envconfig:"TALLY_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" envconfig:"TALLY_S3_SECRET_ACCESS_KEY"`
	Endpoint        string `json:"endpoint" envconfig:"TALLY_S3_ENDPOINT"`
	BucketName      string `json:"bucket_name" envconfig:"TALLY_S3_BUCKET_NAME"`
	Region          string `json:"region" envconfig:"TALLY_S3_REGION"`
}

type UploadConfig struct {
	MaxFileBytes    int64 `json:"max_file_bytes" envconfig:"TALLY_UPLOAD_MAX_FILE_BYTES"`
	MaxRowsPerSheet int   `json:"max_rows_per_sheet" envconfig:"TALLY_UPLOAD_MAX_ROWS"`
	MaxColumns      int   `json:"max_columns" envconfig:"TALLY_UPLOAD_MAX_COLUMNS"`
	PreviewRows     int   `json:"preview_rows" envconfig:"TALLY_UPLOAD_PREVIEW_ROWS"`
}

// ReconciliationPolicy holds product-level matching policy knobs.
// PreserveResolutionsOnReupload controls whether reviewer annotations
// survive a source re-upload when the exception keys still resolve to
// the same rows.
type ReconciliationPolicy struct {
	PreserveResolutionsOnReupload bool `json:"preserve_resolutions_on_reupload" envconfig:"TALLY_PRESERVE_RESOLUTIONS_ON_REUPLOAD"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"TALLY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"TALLY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"TALLY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"TALLY_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName     string               `json:"project_name" envconfig:"TALLY_PROJECT_NAME"`
	EnableTelemetry bool                 `json:"enable_telemetry" envconfig:"TALLY_ENABLE_TELEMETRY"`
	BackupDir       string               `json:"backup_dir" envconfig:"TALLY_BACKUP_DIR"`
	Server          ServerConfig         `json:"server"`
	DataSource      DataSourceConfig     `json:"data_source"`
	Redis           RedisConfig          `json:"redis"`
	Extractor       ExtractorConfig      `json:"extractor"`
	S3              S3Config             `json:"s3"`
	Upload          UploadConfig         `json:"upload"`
	Reconciliation  ReconciliationPolicy `json:"reconciliation"`
	RateLimit       RateLimitConfig      `json:"rate_limit"`
	Notification    Notification         `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("tally", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called tally.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Tally Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.BackupDir == "" {
		cnf.BackupDir = "backups"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.Extractor.TimeoutSec <= 0 {
		cnf.Extractor.TimeoutSec = 30
	}

	if cnf.Upload.MaxFileBytes <= 0 {
		cnf.Upload.MaxFileBytes = DefaultMaxFileBytes
	}
	if cnf.Upload.MaxRowsPerSheet <= 0 {
		cnf.Upload.MaxRowsPerSheet = DefaultMaxRowsPerSheet
	}
	if cnf.Upload.MaxColumns <= 0 {
		cnf.Upload.MaxColumns = DefaultMaxColumns
	}
	if cnf.Upload.PreviewRows <= 0 {
		cnf.Upload.PreviewRows = DefaultPreviewRows
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
