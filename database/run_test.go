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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tallyops/tally/internal/apierror"
	"github.com/tallyops/tally/model"
)

func testRun() *model.Run {
	cfg := testConfig()
	return &model.Run{
		RunID:          "run_1",
		ConfigID:       cfg.ConfigID,
		OrganizationID: cfg.OrganizationID,
		Period:         "2026-08",
		Status:         model.RunStatusDraft,
		Rules:          cfg.Rules,
		SourceAConfig:  cfg.SourceA,
		SourceBConfig:  cfg.SourceB,
		CreatedBy:      "user_1",
		CreatedAt:      time.Now(),
	}
}

func TestRecordRun_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	run := testRun()

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(run.RunID, run.ConfigID, run.OrganizationID, run.Period, run.Status,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), 0, 0, sqlmock.AnyArg(),
			run.CreatedBy, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.RecordRun(context.Background(), run)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunStatus_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT status FROM runs").
		WithArgs("run_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetRunStatus(context.Background(), "run_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestReplaceSource_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	src := &model.SourceFile{
		FileName:   "bank_aug.csv",
		RowCount:   2,
		UploadedAt: time.Now(),
		Rows: []model.Row{
			{RowKey: "ref:tx-001", Position: 0, Amount: decimal.NewFromInt(100), Date: time.Now(), Reference: "TX-001"},
			{RowKey: "ref:tx-002", Position: 1, Amount: decimal.NewFromInt(250), Date: time.Now(), Reference: "TX-002"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR UPDATE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))
	mock.ExpectExec("DELETE FROM run_rows").
		WithArgs("run_1", model.SideB).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// a re-upload invalidates the prior computation atomically
	mock.ExpectExec("DELETE FROM run_matches").
		WithArgs("run_1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM run_exceptions").
		WithArgs("run_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO run_rows").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO run_rows").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE runs SET source_b_meta").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ds.ReplaceSource(context.Background(), "run_1", model.SideB, src, model.RunStatusPartial)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSource_CompletedRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR UPDATE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	err = ds.ReplaceSource(context.Background(), "run_1", model.SideA, &model.SourceFile{}, model.RunStatusPartial)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrImmutableRun, apiErr.Code)
}

func TestSaveMatchResult_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	matches := []model.Match{
		{ARowKey: "ref:tx-001", BRowKey: "ref:tx-001", Method: model.MatchMethodExact, Score: 1},
	}
	exceptions := []model.Exception{
		{Key: "a:ref:tx-002", Side: model.SideA, RowKey: "ref:tx-002", Category: model.CategoryOther, Resolution: model.ResolutionPending},
	}
	totals := model.RunTotals{
		TotalSourceA:   decimal.NewFromInt(350),
		TotalSourceB:   decimal.NewFromInt(100),
		MatchedCount:   1,
		ExceptionCount: 1,
		Variance:       decimal.NewFromInt(250),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR UPDATE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("partial"))
	mock.ExpectExec("DELETE FROM run_matches").
		WithArgs("run_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM run_exceptions").
		WithArgs("run_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO run_matches").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO run_exceptions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ds.SaveMatchResult(context.Background(), "run_1", model.RunStatusReview, matches, exceptions, totals)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR UPDATE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("matched"))
	mock.ExpectQuery("SELECT exception_key FROM run_exceptions").
		WithArgs("run_1", model.ResolutionPending).
		WillReturnRows(sqlmock.NewRows([]string{"exception_key"}))
	mock.ExpectExec("UPDATE runs SET status").
		WithArgs("run_1", model.RunStatusCompleted, sqlmock.AnyArg(), "user_2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	pending, err := ds.CompleteRun(context.Background(), "run_1", "user_2")
	assert.NoError(t, err)
	assert.Empty(t, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun_PendingExceptions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR UPDATE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("review"))
	mock.ExpectQuery("SELECT exception_key FROM run_exceptions").
		WithArgs("run_1", model.ResolutionPending).
		WillReturnRows(sqlmock.NewRows([]string{"exception_key"}).
			AddRow("a:ref:tx-002").
			AddRow("b:row:4"))
	mock.ExpectRollback()

	pending, err := ds.CompleteRun(context.Background(), "run_1", "user_2")
	assert.Error(t, err)
	assert.Equal(t, []string{"a:ref:tx-002", "b:row:4"}, pending)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrPendingExceptions, apiErr.Code)
}

func TestCompleteRun_AlreadyCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR UPDATE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	_, err = ds.CompleteRun(context.Background(), "run_1", "user_2")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrImmutableRun, apiErr.Code)
}

func TestCompleteRun_NotMatchedYet(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR UPDATE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("partial"))
	mock.ExpectRollback()

	_, err = ds.CompleteRun(context.Background(), "run_1", "user_2")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
}

func TestUpdateException_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	resolution := model.ResolutionResolved
	notes := "Bank posted a day late"
	patch := model.ExceptionPatch{Resolution: &resolution, Notes: &notes}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR SHARE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("review"))
	mock.ExpectQuery("UPDATE run_exceptions").
		WithArgs("run_1", "a:ref:tx-002", nil, sqlmock.AnyArg(), sqlmock.AnyArg(), "user_2").
		WillReturnRows(sqlmock.NewRows([]string{
			"exception_key", "side", "row_key", "category", "resolution", "notes", "resolved_by",
		}).AddRow("a:ref:tx-002", "a", "ref:tx-002", "timing", "resolved", notes, "user_2"))
	mock.ExpectCommit()

	ex, err := ds.UpdateException(context.Background(), "run_1", "a:ref:tx-002", patch, "user_2")
	assert.NoError(t, err)
	assert.Equal(t, model.ResolutionResolved, ex.Resolution)
	assert.Equal(t, model.CategoryTiming, ex.Category)
	assert.Equal(t, "user_2", ex.ResolvedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateException_UnknownKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR SHARE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("review"))
	mock.ExpectQuery("UPDATE run_exceptions").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err = ds.UpdateException(context.Background(), "run_1", "a:ref:bogus", model.ExceptionPatch{}, "user_2")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestUpdateException_CompletedRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM runs WHERE run_id = (.+) FOR SHARE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	_, err = ds.UpdateException(context.Background(), "run_1", "a:ref:tx-002", model.ExceptionPatch{}, "user_2")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrImmutableRun, apiErr.Code)
}

func TestGetExceptions_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT exception_key, side, row_key, category, resolution, notes, resolved_by").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"exception_key", "side", "row_key", "category", "resolution", "notes", "resolved_by",
		}).
			AddRow("a:ref:tx-002", "a", "ref:tx-002", "other", "pending", nil, nil).
			AddRow("b:row:4", "b", "row:4", "missing_record", "resolved", "duplicate feed entry", "user_2"))

	exceptions, err := ds.GetExceptions(context.Background(), "run_1")
	assert.NoError(t, err)
	assert.Len(t, exceptions, 2)
	assert.Equal(t, model.ResolutionPending, exceptions["a:ref:tx-002"].Resolution)
	assert.Equal(t, "user_2", exceptions["b:row:4"].ResolvedBy)
}
