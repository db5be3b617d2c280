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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/tallyops/tally/internal/apierror"
	"github.com/tallyops/tally/model"
)

func testConfig() *model.ReconciliationConfig {
	return &model.ReconciliationConfig{
		ConfigID:       "cfg_1",
		OrganizationID: "org_1",
		BindingID:      "acct_777",
		Name:           "Operating vs Bank",
		SourceA: model.SourceConfig{
			Label: "Internal Ledger",
			Columns: []model.ColumnDef{
				{Key: "ref", Label: "Reference", Type: model.ColumnText, IsIdentity: true},
				{Key: "amount", Label: "Amount", Type: model.ColumnCurrency},
				{Key: "date", Label: "Date", Type: model.ColumnDate},
			},
		},
		SourceB: model.SourceConfig{
			Label: "Bank Statement",
			Columns: []model.ColumnDef{
				{Key: "ref", Label: "Reference", Type: model.ColumnText, IsIdentity: true},
				{Key: "amount", Label: "Amount", Type: model.ColumnCurrency},
				{Key: "date", Label: "Posted", Type: model.ColumnDate},
			},
		},
		Rules: model.MatchingRules{
			AmountMatch:    model.AmountMatchExact,
			DateWindowDays: 3,
		},
		Viewers:   []string{"user_9"},
		CreatedBy: "user_1",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestRecordConfig_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	cfg := testConfig()

	mock.ExpectExec("INSERT INTO reconciliation_configs").
		WithArgs(cfg.ConfigID, cfg.OrganizationID, cfg.BindingID, cfg.Name,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			cfg.CreatedBy, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.RecordConfig(context.Background(), cfg)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordConfig_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	cfg := testConfig()

	mock.ExpectExec("INSERT INTO reconciliation_configs").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	err = ds.RecordConfig(context.Background(), cfg)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func configRows(t *testing.T, cfg *model.ReconciliationConfig) *sqlmock.Rows {
	t.Helper()
	sourceAJSON, err := json.Marshal(cfg.SourceA)
	assert.NoError(t, err)
	sourceBJSON, err := json.Marshal(cfg.SourceB)
	assert.NoError(t, err)
	rulesJSON, err := json.Marshal(cfg.Rules)
	assert.NoError(t, err)
	viewersJSON, err := json.Marshal(cfg.Viewers)
	assert.NoError(t, err)

	return sqlmock.NewRows([]string{
		"id", "config_id", "organization_id", "binding_id", "name",
		"source_a_config", "source_b_config", "matching_rules", "viewers",
		"created_by", "created_at", "updated_at",
	}).AddRow(1, cfg.ConfigID, cfg.OrganizationID, cfg.BindingID, cfg.Name,
		sourceAJSON, sourceBJSON, rulesJSON, viewersJSON,
		cfg.CreatedBy, cfg.CreatedAt, cfg.UpdatedAt)
}

func TestGetConfig_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	want := testConfig()

	mock.ExpectQuery("SELECT (.+) FROM reconciliation_configs WHERE config_id =").
		WithArgs("cfg_1", "org_1").
		WillReturnRows(configRows(t, want))

	got, err := ds.GetConfig(context.Background(), "cfg_1", "org_1")
	assert.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.BindingID, got.BindingID)
	assert.Len(t, got.SourceA.Columns, 3)
	assert.Equal(t, model.AmountMatchExact, got.Rules.AmountMatch)
	assert.Equal(t, []string{"user_9"}, got.Viewers)
}

func TestGetConfig_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM reconciliation_configs WHERE config_id =").
		WithArgs("cfg_missing", "org_1").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetConfig(context.Background(), "cfg_missing", "org_1")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestListConfigs_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	want := testConfig()

	mock.ExpectQuery("SELECT (.+) FROM reconciliation_configs WHERE organization_id =").
		WithArgs("org_1").
		WillReturnRows(configRows(t, want))

	configs, err := ds.ListConfigs(context.Background(), "org_1")
	assert.NoError(t, err)
	assert.Len(t, configs, 1)
	assert.Equal(t, "cfg_1", configs[0].ConfigID)
}

func TestUpdateConfig_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	cfg := testConfig()
	cfg.ConfigID = "cfg_missing"

	mock.ExpectExec("UPDATE reconciliation_configs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdateConfig(context.Background(), cfg)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestDeleteConfig_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("DELETE FROM reconciliation_configs").
		WithArgs("cfg_1", "org_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.DeleteConfig(context.Background(), "cfg_1", "org_1")
	assert.NoError(t, err)
}

func TestDeleteConfig_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("DELETE FROM reconciliation_configs").
		WithArgs("cfg_missing", "org_1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.DeleteConfig(context.Background(), "cfg_missing", "org_1")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestIsConfigViewer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	viewersJSON, err := json.Marshal([]string{"user_9", "user_10"})
	assert.NoError(t, err)

	mock.ExpectQuery("SELECT viewers FROM reconciliation_configs").
		WithArgs("cfg_1").
		WillReturnRows(sqlmock.NewRows([]string{"viewers"}).AddRow(viewersJSON))

	ok, err := ds.IsConfigViewer(context.Background(), "cfg_1", "user_9")
	assert.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("SELECT viewers FROM reconciliation_configs").
		WithArgs("cfg_1").
		WillReturnRows(sqlmock.NewRows([]string{"viewers"}).AddRow(viewersJSON))

	ok, err = ds.IsConfigViewer(context.Background(), "cfg_1", "user_99")
	assert.NoError(t, err)
	assert.False(t, ok)
}
