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

package tally

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/tallyops/tally/internal/apierror"
	"github.com/tallyops/tally/model"
)

// ConfigPatch carries the fields of a template an editor wants to
// change. Nil fields are left untouched.
type ConfigPatch struct {
	Name    *string              `json:"name,omitempty"`
	SourceA *model.SourceConfig  `json:"source_a_config,omitempty"`
	SourceB *model.SourceConfig  `json:"source_b_config,omitempty"`
	Rules   *model.MatchingRules `json:"matching_rules,omitempty"`
	Viewers *[]string            `json:"viewers,omitempty"`
}

// CreateConfig validates and stores a new reconciliation template. The
// binding id ties the template to its originating task or period; at
// most one template may exist per binding, and names are unique within
// an organization. Both are enforced by the store and surface as
// conflicts.
func (t *Tally) CreateConfig(ctx context.Context, actor model.ActorContext, cfg model.ReconciliationConfig) (*model.ReconciliationConfig, error) {
	ctx, span := otel.Tracer("Config").Start(ctx, "Creating reconciliation config")
	defer span.End()

	cfg.ConfigID = model.GenerateUUIDWithSuffix("cfg")
	cfg.OrganizationID = actor.OrganizationID
	cfg.CreatedBy = actor.ActorID
	cfg.CreatedAt = time.Now()
	cfg.UpdatedAt = cfg.CreatedAt

	if err := cfg.Validate(); err != nil {
		return nil, apierror.Validation("invalid reconciliation config", err)
	}
	if err := t.datasource.RecordConfig(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateConfig merges the supplied fields into an existing template
// and revalidates the whole. Runs already created keep the
// denormalized copy they were instantiated with.
func (t *Tally) UpdateConfig(ctx context.Context, actor model.ActorContext, configID string, patch ConfigPatch) (*model.ReconciliationConfig, error) {
	ctx, span := otel.Tracer("Config").Start(ctx, "Updating reconciliation config")
	defer span.End()

	cfg, err := t.datasource.GetConfig(ctx, configID, actor.OrganizationID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		cfg.Name = *patch.Name
	}
	if patch.SourceA != nil {
		cfg.SourceA = *patch.SourceA
	}
	if patch.SourceB != nil {
		cfg.SourceB = *patch.SourceB
	}
	if patch.Rules != nil {
		cfg.Rules = *patch.Rules
	}
	if patch.Viewers != nil {
		cfg.Viewers = *patch.Viewers
	}
	cfg.UpdatedAt = time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, apierror.Validation("invalid reconciliation config", err)
	}
	if err := t.datasource.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetConfig retrieves one template scoped to the actor's organization.
func (t *Tally) GetConfig(ctx context.Context, actor model.ActorContext, configID string) (*model.ReconciliationConfig, error) {
	return t.datasource.GetConfig(ctx, configID, actor.OrganizationID)
}

// ListConfigs retrieves the organization's templates, newest first.
func (t *Tally) ListConfigs(ctx context.Context, actor model.ActorContext) ([]*model.ReconciliationConfig, error) {
	return t.datasource.ListConfigs(ctx, actor.OrganizationID)
}

// DeleteConfig removes a template. Existing runs are untouched; they
// carry their own copy of the rules they ran under.
func (t *Tally) DeleteConfig(ctx context.Context, actor model.ActorContext, configID string) error {
	ctx, span := otel.Tracer("Config").Start(ctx, "Deleting reconciliation config")
	defer span.End()

	return t.datasource.DeleteConfig(ctx, configID, actor.OrganizationID)
}

// IsViewer reports whether a user has viewer access to a template.
// Consumed by the permission layer for non-privileged roles.
func (t *Tally) IsViewer(ctx context.Context, configID, userID string) (bool, error) {
	return t.datasource.IsConfigViewer(ctx, configID, userID)
}
