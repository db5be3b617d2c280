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
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/tallyops/tally/internal/apierror"
	"github.com/tallyops/tally/model"
)

// RecordRun inserts a new run with its denormalized rules and schemas.
func (d Datasource) RecordRun(ctx context.Context, run *model.Run) error {
	ctx, span := otel.Tracer("Run").Start(ctx, "Saving run to db")
	defer span.End()

	rulesJSON, err := json.Marshal(run.Rules)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal matching rules", err)
	}
	sourceAJSON, err := json.Marshal(run.SourceAConfig)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal source A config", err)
	}
	sourceBJSON, err := json.Marshal(run.SourceBConfig)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal source B config", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO runs (run_id, config_id, organization_id, period, status,
			matching_rules, source_a_config, source_b_config,
			total_source_a, total_source_b, matched_count, exception_count, variance,
			created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, run.RunID, run.ConfigID, run.OrganizationID, run.Period, run.Status,
		rulesJSON, sourceAJSON, sourceBJSON,
		run.Totals.TotalSourceA, run.Totals.TotalSourceB, run.Totals.MatchedCount,
		run.Totals.ExceptionCount, run.Totals.Variance,
		run.CreatedBy, run.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return apierror.NewAPIError(apierror.ErrConflict, "Run with this ID already exists", err)
			case "foreign_key_violation":
				return apierror.NotFound("Config not found")
			}
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create run", err)
	}

	return nil
}

// GetRunSummary retrieves the hot summary fields of a run without its
// rows, matches or exceptions.
func (d Datasource) GetRunSummary(ctx context.Context, runID string) (*model.Run, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Fetching run summary from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, run_id, config_id, organization_id, period, status,
			matching_rules, source_a_config, source_b_config, source_a_meta, source_b_meta,
			total_source_a, total_source_b, matched_count, exception_count, variance,
			created_by, created_at, completed_at, completed_by
		FROM runs
		WHERE run_id = $1
	`, runID)

	return scanRunSummary(row)
}

// GetRun retrieves a run with its source rows, matches and exceptions.
func (d Datasource) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Fetching full run from db")
	defer span.End()

	run, err := d.GetRunSummary(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.SourceA != nil {
		run.SourceA.Rows, err = d.GetSourceRows(ctx, runID, model.SideA)
		if err != nil {
			return nil, err
		}
	}
	if run.SourceB != nil {
		run.SourceB.Rows, err = d.GetSourceRows(ctx, runID, model.SideB)
		if err != nil {
			return nil, err
		}
	}

	run.Matches, err = d.getMatches(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Exceptions, err = d.GetExceptions(ctx, runID)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns retrieves run summaries for an organization, newest first.
// configID narrows the list when non-empty.
func (d Datasource) ListRuns(ctx context.Context, orgID, configID string) ([]*model.Run, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Fetching runs from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, run_id, config_id, organization_id, period, status,
			matching_rules, source_a_config, source_b_config, source_a_meta, source_b_meta,
			total_source_a, total_source_b, matched_count, exception_count, variance,
			created_by, created_at, completed_at, completed_by
		FROM runs
		WHERE organization_id = $1 AND ($2 = '' OR config_id = $2)
		ORDER BY created_at DESC
	`, orgID, configID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve runs", err)
	}
	defer rows.Close()

	runs := []*model.Run{}
	for rows.Next() {
		run, err := scanRunSummary(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over runs", err)
	}

	return runs, nil
}

// GetRunStatus retrieves the current lifecycle state of a run.
func (d Datasource) GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Fetching run status from db")
	defer span.End()

	var status model.RunStatus
	err := d.Conn.QueryRowContext(ctx, `
		SELECT status FROM runs WHERE run_id = $1
	`, runID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apierror.NotFound("Run not found")
		}
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve run status", err)
	}
	return status, nil
}

// ReplaceSource swaps out one side's rows and file metadata inside a
// transaction. The run row is locked first so a concurrent completion
// cannot slip between the status check and the write.
func (d Datasource) ReplaceSource(ctx context.Context, runID string, side model.Side, src *model.SourceFile, status model.RunStatus) error {
	ctx, span := otel.Tracer("Run").Start(ctx, "Replacing run source rows")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current model.RunStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM runs WHERE run_id = $1 FOR UPDATE
	`, runID).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return apierror.NotFound("Run not found")
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock run", err)
	}
	if current == model.RunStatusCompleted {
		return apierror.ImmutableRun(runID)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM run_rows WHERE run_id = $1 AND side = $2
	`, runID, side)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear previous rows", err)
	}

	// The old computation references rows that no longer exist, so it
	// goes in the same transaction. Until a fresh match result lands
	// the run reports no matches and no exceptions.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM run_matches WHERE run_id = $1
	`, runID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear previous matches", err)
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM run_exceptions WHERE run_id = $1
	`, runID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear previous exceptions", err)
	}

	for i := range src.Rows {
		r := &src.Rows[i]
		fieldsJSON, err := json.Marshal(r.Fields)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal row fields", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_rows (run_id, side, position, row_key, amount, date, description, reference, fields)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, runID, side, r.Position, r.RowKey, r.Amount, r.Date, r.Description, r.Reference, fieldsJSON)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert row", err)
		}
	}

	metaJSON, err := json.Marshal(model.SourceFile{
		FileName:   src.FileName,
		StorageKey: src.StorageKey,
		RowCount:   src.RowCount,
		UploadedAt: src.UploadedAt,
	})
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal source metadata", err)
	}

	metaColumn := "source_a_meta"
	if side == model.SideB {
		metaColumn = "source_b_meta"
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET `+metaColumn+` = $2, status = $3 WHERE run_id = $1
	`, runID, metaJSON, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update run metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit source replacement", err)
	}
	return nil
}

// GetSourceRows retrieves one side's rows in upload order.
func (d Datasource) GetSourceRows(ctx context.Context, runID string, side model.Side) ([]model.Row, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Fetching source rows from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT position, row_key, amount, date, description, reference, fields
		FROM run_rows
		WHERE run_id = $1 AND side = $2
		ORDER BY position ASC
	`, runID, side)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve source rows", err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var r model.Row
		var fieldsJSON []byte
		err = rows.Scan(&r.Position, &r.RowKey, &r.Amount, &r.Date, &r.Description, &r.Reference, &fieldsJSON)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan source row", err)
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal row fields", err)
			}
		}
		out = append(out, r)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over rows", err)
	}

	return out, nil
}

// SaveMatchResult atomically replaces a run's matches and exceptions
// and updates the summary figures. The caller supplies the final
// exception set, including any carried-over resolutions.
func (d Datasource) SaveMatchResult(ctx context.Context, runID string, status model.RunStatus, matches []model.Match, exceptions []model.Exception, totals model.RunTotals) error {
	ctx, span := otel.Tracer("Run").Start(ctx, "Saving match result to db")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current model.RunStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM runs WHERE run_id = $1 FOR UPDATE
	`, runID).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return apierror.NotFound("Run not found")
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock run", err)
	}
	if current == model.RunStatusCompleted {
		return apierror.ImmutableRun(runID)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM run_matches WHERE run_id = $1`, runID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear previous matches", err)
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM run_exceptions WHERE run_id = $1`, runID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear previous exceptions", err)
	}

	for i, m := range matches {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_matches (run_id, ordinal, a_row_key, b_row_key, method, score)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, runID, i, m.ARowKey, m.BRowKey, m.Method, m.Score)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert match", err)
		}
	}

	for i, ex := range exceptions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_exceptions (run_id, exception_key, ordinal, side, row_key, category, resolution, notes, resolved_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, runID, ex.Key, i, ex.Side, ex.RowKey, ex.Category, ex.Resolution, ex.Notes, ex.ResolvedBy)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert exception", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE runs
		SET status = $2, total_source_a = $3, total_source_b = $4,
			matched_count = $5, exception_count = $6, variance = $7
		WHERE run_id = $1
	`, runID, status, totals.TotalSourceA, totals.TotalSourceB,
		totals.MatchedCount, totals.ExceptionCount, totals.Variance)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update run summary", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit match result", err)
	}
	return nil
}

// CompleteRun transitions a run to completed. The run row is locked for
// the duration so the pending check and the status write are one atomic
// step. When unresolved exceptions remain their keys are returned along
// with the blocking error.
func (d Datasource) CompleteRun(ctx context.Context, runID, signerID string) ([]string, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Completing run")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current model.RunStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM runs WHERE run_id = $1 FOR UPDATE
	`, runID).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFound("Run not found")
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock run", err)
	}
	if current == model.RunStatusCompleted {
		return nil, apierror.ImmutableRun(runID)
	}
	if current != model.RunStatusMatched && current != model.RunStatusReview {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Run has not been matched yet", nil)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT exception_key FROM run_exceptions
		WHERE run_id = $1 AND resolution = $2
		ORDER BY exception_key ASC
	`, runID, model.ResolutionPending)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check pending exceptions", err)
	}
	var pending []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan exception key", err)
		}
		pending = append(pending, key)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over exceptions", err)
	}
	rows.Close()

	if len(pending) > 0 {
		return pending, apierror.PendingExceptions(runID, pending)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET status = $2, completed_at = $3, completed_by = $4 WHERE run_id = $1
	`, runID, model.RunStatusCompleted, time.Now(), signerID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete run", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit completion", err)
	}
	return nil, nil
}

// GetExceptions retrieves a run's exceptions keyed by exception key.
func (d Datasource) GetExceptions(ctx context.Context, runID string) (map[string]model.Exception, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Fetching exceptions from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT exception_key, side, row_key, category, resolution, notes, resolved_by
		FROM run_exceptions
		WHERE run_id = $1
		ORDER BY ordinal ASC
	`, runID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve exceptions", err)
	}
	defer rows.Close()

	exceptions := map[string]model.Exception{}
	for rows.Next() {
		var ex model.Exception
		var notes, resolvedBy sql.NullString
		err = rows.Scan(&ex.Key, &ex.Side, &ex.RowKey, &ex.Category, &ex.Resolution, &notes, &resolvedBy)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan exception", err)
		}
		ex.Notes = notes.String
		ex.ResolvedBy = resolvedBy.String
		exceptions[ex.Key] = ex
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over exceptions", err)
	}

	return exceptions, nil
}

// UpdateException merges the supplied patch fields into one exception
// entry. The run row is share-locked so the immutability check holds
// until the update commits; unset patch fields keep their stored value
// through COALESCE, so concurrent edits to different fields both land.
func (d Datasource) UpdateException(ctx context.Context, runID, key string, patch model.ExceptionPatch, resolvedBy string) (*model.Exception, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Updating exception")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current model.RunStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM runs WHERE run_id = $1 FOR SHARE
	`, runID).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFound("Run not found")
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock run", err)
	}
	if current == model.RunStatusCompleted {
		return nil, apierror.ImmutableRun(runID)
	}

	var setResolvedBy interface{}
	if patch.Resolution != nil {
		setResolvedBy = resolvedBy
	}

	ex := &model.Exception{}
	var notes, storedResolvedBy sql.NullString
	err = tx.QueryRowContext(ctx, `
		UPDATE run_exceptions
		SET category = COALESCE($3, category),
			resolution = COALESCE($4, resolution),
			notes = COALESCE($5, notes),
			resolved_by = COALESCE($6, resolved_by)
		WHERE run_id = $1 AND exception_key = $2
		RETURNING exception_key, side, row_key, category, resolution, notes, resolved_by
	`, runID, key, patch.Category, patch.Resolution, patch.Notes, setResolvedBy).Scan(
		&ex.Key, &ex.Side, &ex.RowKey, &ex.Category, &ex.Resolution, &notes, &storedResolvedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFound("Exception not found")
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update exception", err)
	}
	ex.Notes = notes.String
	ex.ResolvedBy = storedResolvedBy.String

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit exception update", err)
	}
	return ex, nil
}

func scanRunSummary(row rowScanner) (*model.Run, error) {
	run := &model.Run{}
	var rulesJSON, sourceAJSON, sourceBJSON []byte
	var sourceAMeta, sourceBMeta []byte
	var period, createdBy, completedBy sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.RunID, &run.ConfigID, &run.OrganizationID, &period, &run.Status,
		&rulesJSON, &sourceAJSON, &sourceBJSON, &sourceAMeta, &sourceBMeta,
		&run.Totals.TotalSourceA, &run.Totals.TotalSourceB,
		&run.Totals.MatchedCount, &run.Totals.ExceptionCount, &run.Totals.Variance,
		&createdBy, &run.CreatedAt, &completedAt, &completedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFound("Run not found")
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve run", err)
	}

	run.Period = period.String
	run.CreatedBy = createdBy.String
	run.CompletedBy = completedBy.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}

	if err := json.Unmarshal(rulesJSON, &run.Rules); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal matching rules", err)
	}
	if err := json.Unmarshal(sourceAJSON, &run.SourceAConfig); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal source A config", err)
	}
	if err := json.Unmarshal(sourceBJSON, &run.SourceBConfig); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal source B config", err)
	}
	if len(sourceAMeta) > 0 {
		run.SourceA = &model.SourceFile{}
		if err := json.Unmarshal(sourceAMeta, run.SourceA); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal source A metadata", err)
		}
	}
	if len(sourceBMeta) > 0 {
		run.SourceB = &model.SourceFile{}
		if err := json.Unmarshal(sourceBMeta, run.SourceB); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal source B metadata", err)
		}
	}

	return run, nil
}

func (d Datasource) getMatches(ctx context.Context, runID string) ([]model.Match, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT a_row_key, b_row_key, method, score
		FROM run_matches
		WHERE run_id = $1
		ORDER BY ordinal ASC
	`, runID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve matches", err)
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		var m model.Match
		if err := rows.Scan(&m.ARowKey, &m.BRowKey, &m.Method, &m.Score); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan match", err)
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over matches", err)
	}

	return matches, nil
}
