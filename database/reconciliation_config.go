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

// RecordConfig inserts a new reconciliation template into the database.
func (d Datasource) RecordConfig(ctx context.Context, cfg *model.ReconciliationConfig) error {
	ctx, span := otel.Tracer("Config").Start(ctx, "Saving reconciliation config to db")
	defer span.End()

	sourceAJSON, err := json.Marshal(cfg.SourceA)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal source A config", err)
	}
	sourceBJSON, err := json.Marshal(cfg.SourceB)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal source B config", err)
	}
	rulesJSON, err := json.Marshal(cfg.Rules)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal matching rules", err)
	}
	viewersJSON, err := json.Marshal(cfg.Viewers)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal viewers", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO reconciliation_configs (config_id, organization_id, binding_id, name,
			source_a_config, source_b_config, matching_rules, viewers, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, cfg.ConfigID, cfg.OrganizationID, cfg.BindingID, cfg.Name,
		sourceAJSON, sourceBJSON, rulesJSON, viewersJSON, cfg.CreatedBy, cfg.CreatedAt, cfg.UpdatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "A config with this name or binding already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create config", err)
	}

	return nil
}

// GetConfig retrieves a template by ID, scoped to an organization.
func (d Datasource) GetConfig(ctx context.Context, configID, orgID string) (*model.ReconciliationConfig, error) {
	ctx, span := otel.Tracer("Config").Start(ctx, "Fetching reconciliation config from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, config_id, organization_id, binding_id, name,
			source_a_config, source_b_config, matching_rules, viewers, created_by, created_at, updated_at
		FROM reconciliation_configs
		WHERE config_id = $1 AND organization_id = $2
	`, configID, orgID)

	return scanConfig(row)
}

// ListConfigs retrieves all templates for an organization, newest first.
func (d Datasource) ListConfigs(ctx context.Context, orgID string) ([]*model.ReconciliationConfig, error) {
	ctx, span := otel.Tracer("Config").Start(ctx, "Fetching reconciliation configs from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, config_id, organization_id, binding_id, name,
			source_a_config, source_b_config, matching_rules, viewers, created_by, created_at, updated_at
		FROM reconciliation_configs
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve configs", err)
	}
	defer rows.Close()

	configs := []*model.ReconciliationConfig{}
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over configs", err)
	}

	return configs, nil
}

// UpdateConfig updates a template's mutable fields. Existing runs keep
// the denormalized copy they were created with.
func (d Datasource) UpdateConfig(ctx context.Context, cfg *model.ReconciliationConfig) error {
	ctx, span := otel.Tracer("Config").Start(ctx, "Updating reconciliation config")
	defer span.End()

	sourceAJSON, err := json.Marshal(cfg.SourceA)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal source A config", err)
	}
	sourceBJSON, err := json.Marshal(cfg.SourceB)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal source B config", err)
	}
	rulesJSON, err := json.Marshal(cfg.Rules)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal matching rules", err)
	}
	viewersJSON, err := json.Marshal(cfg.Viewers)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal viewers", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE reconciliation_configs
		SET name = $3, source_a_config = $4, source_b_config = $5, matching_rules = $6,
			viewers = $7, updated_at = $8
		WHERE config_id = $1 AND organization_id = $2
	`, cfg.ConfigID, cfg.OrganizationID, cfg.Name, sourceAJSON, sourceBJSON, rulesJSON, viewersJSON, time.Now())

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "A config with this name already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update config", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NotFound("Config not found")
	}

	return nil
}

// DeleteConfig removes template metadata. Runs created from the config
// are denormalized and keep working without it.
func (d Datasource) DeleteConfig(ctx context.Context, configID, orgID string) error {
	ctx, span := otel.Tracer("Config").Start(ctx, "Deleting reconciliation config")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		DELETE FROM reconciliation_configs
		WHERE config_id = $1 AND organization_id = $2
	`, configID, orgID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete config", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read delete result", err)
	}
	if affected == 0 {
		return apierror.NotFound("Config not found")
	}

	return nil
}

// IsConfigViewer reports whether userID appears in the config's viewer
// list. Privileged roles bypass this check at the service layer.
func (d Datasource) IsConfigViewer(ctx context.Context, configID, userID string) (bool, error) {
	ctx, span := otel.Tracer("Config").Start(ctx, "Checking config viewer access")
	defer span.End()

	var viewersJSON []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT viewers FROM reconciliation_configs WHERE config_id = $1
	`, configID).Scan(&viewersJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, apierror.NotFound("Config not found")
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve config viewers", err)
	}

	var viewers []string
	if len(viewersJSON) > 0 {
		if err := json.Unmarshal(viewersJSON, &viewers); err != nil {
			return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal viewers", err)
		}
	}
	for _, v := range viewers {
		if v == userID {
			return true, nil
		}
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row rowScanner) (*model.ReconciliationConfig, error) {
	cfg := &model.ReconciliationConfig{}
	var sourceAJSON, sourceBJSON, rulesJSON, viewersJSON []byte

	err := row.Scan(&cfg.ID, &cfg.ConfigID, &cfg.OrganizationID, &cfg.BindingID, &cfg.Name,
		&sourceAJSON, &sourceBJSON, &rulesJSON, &viewersJSON, &cfg.CreatedBy, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFound("Config not found")
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve config", err)
	}

	if err := json.Unmarshal(sourceAJSON, &cfg.SourceA); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal source A config", err)
	}
	if err := json.Unmarshal(sourceBJSON, &cfg.SourceB); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal source B config", err)
	}
	if err := json.Unmarshal(rulesJSON, &cfg.Rules); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal matching rules", err)
	}
	if len(viewersJSON) > 0 {
		if err := json.Unmarshal(viewersJSON, &cfg.Viewers); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal viewers", err)
		}
	}

	return cfg, nil
}
