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
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tallyops/tally/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Config methods

func (m *MockDataSource) RecordConfig(ctx context.Context, cfg *model.ReconciliationConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockDataSource) GetConfig(ctx context.Context, configID, orgID string) (*model.ReconciliationConfig, error) {
	args := m.Called(ctx, configID, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReconciliationConfig), args.Error(1)
}

func (m *MockDataSource) ListConfigs(ctx context.Context, orgID string) ([]*model.ReconciliationConfig, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ReconciliationConfig), args.Error(1)
}

func (m *MockDataSource) UpdateConfig(ctx context.Context, cfg *model.ReconciliationConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockDataSource) DeleteConfig(ctx context.Context, configID, orgID string) error {
	args := m.Called(ctx, configID, orgID)
	return args.Error(0)
}

func (m *MockDataSource) IsConfigViewer(ctx context.Context, configID, userID string) (bool, error) {
	args := m.Called(ctx, configID, userID)
	return args.Bool(0), args.Error(1)
}

// Run methods

func (m *MockDataSource) RecordRun(ctx context.Context, run *model.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDataSource) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *MockDataSource) GetRunSummary(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *MockDataSource) ListRuns(ctx context.Context, orgID, configID string) ([]*model.Run, error) {
	args := m.Called(ctx, orgID, configID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Run), args.Error(1)
}

func (m *MockDataSource) GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(model.RunStatus), args.Error(1)
}

func (m *MockDataSource) ReplaceSource(ctx context.Context, runID string, side model.Side, src *model.SourceFile, status model.RunStatus) error {
	args := m.Called(ctx, runID, side, src, status)
	return args.Error(0)
}

func (m *MockDataSource) GetSourceRows(ctx context.Context, runID string, side model.Side) ([]model.Row, error) {
	args := m.Called(ctx, runID, side)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Row), args.Error(1)
}

func (m *MockDataSource) SaveMatchResult(ctx context.Context, runID string, status model.RunStatus, matches []model.Match, exceptions []model.Exception, totals model.RunTotals) error {
	args := m.Called(ctx, runID, status, matches, exceptions, totals)
	return args.Error(0)
}

func (m *MockDataSource) CompleteRun(ctx context.Context, runID, signerID string) ([]string, error) {
	args := m.Called(ctx, runID, signerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Exception methods

func (m *MockDataSource) GetExceptions(ctx context.Context, runID string) (map[string]model.Exception, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]model.Exception), args.Error(1)
}

func (m *MockDataSource) UpdateException(ctx context.Context, runID, key string, patch model.ExceptionPatch, resolvedBy string) (*model.Exception, error) {
	args := m.Called(ctx, runID, key, patch, resolvedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Exception), args.Error(1)
}
