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

	"github.com/tallyops/tally/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	reconciliationConfig // Interface for reconciliation template operations
	run                  // Interface for run lifecycle operations
	exception            // Interface for exception review operations
}

// reconciliationConfig defines methods for handling reconciliation templates.
type reconciliationConfig interface {
	RecordConfig(ctx context.Context, cfg *model.ReconciliationConfig) error                       // Records a new template
	GetConfig(ctx context.Context, configID, orgID string) (*model.ReconciliationConfig, error)    // Retrieves a template by ID
	ListConfigs(ctx context.Context, orgID string) ([]*model.ReconciliationConfig, error)          // Retrieves all templates for an organization
	UpdateConfig(ctx context.Context, cfg *model.ReconciliationConfig) error                       // Updates a template
	DeleteConfig(ctx context.Context, configID, orgID string) error                                // Deletes template metadata; existing runs are untouched
	IsConfigViewer(ctx context.Context, configID, userID string) (bool, error)                     // Checks read access for a non-privileged user
}

// run defines methods for handling reconciliation runs.
type run interface {
	RecordRun(ctx context.Context, run *model.Run) error                                                               // Records a new run
	GetRun(ctx context.Context, runID string) (*model.Run, error)                                                      // Retrieves a run with rows, matches and exceptions
	GetRunSummary(ctx context.Context, runID string) (*model.Run, error)                                               // Retrieves hot summary fields only
	ListRuns(ctx context.Context, orgID, configID string) ([]*model.Run, error)                                        // Retrieves run summaries for an organization
	GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error)                                           // Retrieves the current status
	ReplaceSource(ctx context.Context, runID string, side model.Side, src *model.SourceFile, status model.RunStatus) error // Replaces one side's rows and metadata
	GetSourceRows(ctx context.Context, runID string, side model.Side) ([]model.Row, error)                             // Retrieves the normalized rows of one side
	SaveMatchResult(ctx context.Context, runID string, status model.RunStatus, matches []model.Match, exceptions []model.Exception, totals model.RunTotals) error // Atomically replaces the match outcome
	CompleteRun(ctx context.Context, runID, signerID string) ([]string, error)                                         // Completes a run; returns pending keys when blocked
}

// exception defines methods for handling exception review.
type exception interface {
	GetExceptions(ctx context.Context, runID string) (map[string]model.Exception, error)                                      // Retrieves the keyed exception map
	UpdateException(ctx context.Context, runID, key string, patch model.ExceptionPatch, resolvedBy string) (*model.Exception, error) // Merges supplied fields into one entry
}
