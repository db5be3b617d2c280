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
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tallyops/tally/config"
	"github.com/tallyops/tally/database/mocks"
	"github.com/tallyops/tally/internal/apierror"
	redlock "github.com/tallyops/tally/internal/lock"
	"github.com/tallyops/tally/model"
)

// memoryCache is an in-process cache.Cache for tests.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

func (c *memoryCache) Get(_ context.Context, key string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, data)
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func newTestTally(t *testing.T, mockDS *mocks.MockDataSource) (*Tally, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &Tally{
		datasource: mockDS,
		cache:      newMemoryCache(),
		redis:      client,
		parser:     NewParser(testUploadLimits(), nil),
		policy:     config.ReconciliationPolicy{PreserveResolutionsOnReupload: true},
		upload:     testUploadLimits(),
	}, mr
}

func testActor() model.ActorContext {
	return model.ActorContext{OrganizationID: "org_1", ActorID: "user_1"}
}

func draftRun() *model.Run {
	return &model.Run{
		RunID:          "run_1",
		ConfigID:       "cfg_1",
		OrganizationID: "org_1",
		Period:         "2024-02",
		Status:         model.RunStatusDraft,
		Rules:          exactRules(),
		SourceAConfig:  *bankSourceConfig(),
		SourceBConfig:  *bankSourceConfig(),
		CreatedBy:      "user_1",
		CreatedAt:      time.Now(),
	}
}

func TestCreateRun_DenormalizesTemplate(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)

	cfg := &model.ReconciliationConfig{
		ConfigID:       "cfg_1",
		OrganizationID: "org_1",
		Name:           "Bank vs ledger",
		SourceA:        *bankSourceConfig(),
		SourceB:        *bankSourceConfig(),
		Rules: model.MatchingRules{
			AmountMatch:        model.AmountMatchTolerance,
			AmountTolerancePct: 1,
			DateWindowDays:     3,
		},
	}
	mockDS.On("GetConfig", mock.Anything, "cfg_1", "org_1").Return(cfg, nil)

	var recorded *model.Run
	mockDS.On("RecordRun", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		recorded = args.Get(1).(*model.Run)
	}).Return(nil)

	run, err := tally.CreateRun(context.Background(), testActor(), "cfg_1", "2024-02")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(run.RunID, "run_"))
	assert.Equal(t, model.RunStatusDraft, run.Status)
	assert.Equal(t, cfg.Rules, run.Rules)
	assert.Equal(t, cfg.SourceA, run.SourceAConfig)
	assert.Equal(t, "user_1", run.CreatedBy)
	assert.Equal(t, "2024-02", run.Period)
	require.NotNil(t, recorded)
	assert.Equal(t, run.RunID, recorded.RunID)
	mockDS.AssertExpectations(t)
}

func TestCreateRun_UnknownConfig(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)

	mockDS.On("GetConfig", mock.Anything, "cfg_missing", "org_1").
		Return(nil, apierror.NotFound("Reconciliation config not found"))

	_, err := tally.CreateRun(context.Background(), testActor(), "cfg_missing", "2024-02")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	mockDS.AssertNotCalled(t, "RecordRun", mock.Anything, mock.Anything)
}

func TestUploadSource_InvalidSide(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)

	_, err := tally.UploadSource(context.Background(), testActor(), "run_1", model.Side("c"), "f.csv", []byte("x"))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}

func TestUploadSource_FileTooLarge(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)
	tally.upload.MaxFileBytes = 8

	_, err := tally.UploadSource(context.Background(), testActor(), "run_1", model.SideA, "f.csv", []byte("123456789"))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
	mockDS.AssertNotCalled(t, "GetRunSummary", mock.Anything, mock.Anything)
}

func TestUploadSource_CompletedRunRejected(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)

	run := draftRun()
	run.Status = model.RunStatusCompleted
	mockDS.On("GetRunSummary", mock.Anything, "run_1").Return(run, nil)

	_, err := tally.UploadSource(context.Background(), testActor(), "run_1", model.SideA,
		"bank.csv", []byte("Reference,Date,Description,Amount\nTX-1,2024-02-01,x,10\n"))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrImmutableRun))
	mockDS.AssertNotCalled(t, "ReplaceSource", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadSource_WrongOrganization(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)

	run := draftRun()
	run.OrganizationID = "org_other"
	mockDS.On("GetRunSummary", mock.Anything, "run_1").Return(run, nil)

	_, err := tally.UploadSource(context.Background(), testActor(), "run_1", model.SideA, "f.csv", []byte("x,y\n1,2\n"))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestUploadSource_ParsesAndRematches(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, mr := newTestTally(t, mockDS)

	run := draftRun()
	run.Status = model.RunStatusPartial
	run.SourceA = &model.SourceFile{FileName: "a.csv", RowCount: 1}
	run.SourceB = &model.SourceFile{FileName: "b.csv", RowCount: 2}
	mockDS.On("GetRunSummary", mock.Anything, "run_1").Return(run, nil)

	var order []string
	mockDS.On("ReplaceSource", mock.Anything, "run_1", model.SideB, mock.Anything, model.RunStatusPartial).
		Run(func(args mock.Arguments) {
			order = append(order, "replace")
			src := args.Get(3).(*model.SourceFile)
			assert.Equal(t, "bank.csv", src.FileName)
			assert.Equal(t, 2, src.RowCount)
		}).Return(nil)

	rowsA := rows(model.Row{Reference: "TX-1", Amount: decimal.NewFromInt(10), Date: day("2024-02-01")})
	rowsB := rows(
		model.Row{Reference: "TX-1", Amount: decimal.NewFromInt(10), Date: day("2024-02-01")},
		model.Row{Amount: decimal.NewFromInt(99), Date: day("2024-02-02")},
	)
	mockDS.On("GetSourceRows", mock.Anything, "run_1", model.SideA).Return(rowsA, nil)
	mockDS.On("GetSourceRows", mock.Anything, "run_1", model.SideB).Return(rowsB, nil)

	// the leftover B row was written off during a previous review round;
	// replacing a source clears the stored exceptions, so the snapshot
	// has to be taken first
	mockDS.On("GetExceptions", mock.Anything, "run_1").
		Run(func(mock.Arguments) { order = append(order, "snapshot") }).
		Return(map[string]model.Exception{
		"b:row:1": {
			Key: "b:row:1", Side: model.SideB, RowKey: "row:1",
			Category: model.CategoryTiming, Resolution: model.ResolutionWrittenOff,
			Notes: "expected next period", ResolvedBy: "user_9",
		},
	}, nil)

	// with the carried resolution nothing is pending, so the run lands on matched
	mockDS.On("SaveMatchResult", mock.Anything, "run_1", model.RunStatusMatched,
		mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			matches := args.Get(3).([]model.Match)
			exceptions := args.Get(4).([]model.Exception)
			require.Len(t, matches, 1)
			require.Len(t, exceptions, 1)
			assert.Equal(t, model.ResolutionWrittenOff, exceptions[0].Resolution)
			assert.Equal(t, "expected next period", exceptions[0].Notes)
			assert.Equal(t, "user_9", exceptions[0].ResolvedBy)
		}).Return(nil)

	csvData := []byte(`Reference,Date,Description,Amount
TX-1,2024-02-01,settlement,10.00
,2024-02-02,unmatched,99.00
`)
	result, err := tally.UploadSource(context.Background(), testActor(), "run_1", model.SideB, "bank.csv", csvData)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, []string{"snapshot", "replace"}, order)
	assert.False(t, mr.Exists(redlock.RunLockKey("run_1")), "run lock must be released")
	mockDS.AssertExpectations(t)
}

func TestCompleteRun_Success(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, mr := newTestTally(t, mockDS)

	run := draftRun()
	run.Status = model.RunStatusMatched
	mockDS.On("GetRunSummary", mock.Anything, "run_1").Return(run, nil)
	mockDS.On("CompleteRun", mock.Anything, "run_1", "user_1").Return([]string{}, nil)

	result, err := tally.CompleteRun(context.Background(), testActor(), "run_1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, mr.Exists(redlock.RunLockKey("run_1")), "run lock must be released")
	mockDS.AssertExpectations(t)
}

func TestCompleteRun_PendingExceptions(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)

	run := draftRun()
	run.Status = model.RunStatusReview
	mockDS.On("GetRunSummary", mock.Anything, "run_1").Return(run, nil)

	pending := []string{"a:ref:tx-002", "b:row:4"}
	mockDS.On("CompleteRun", mock.Anything, "run_1", "user_1").
		Return(pending, apierror.PendingExceptions("run_1", pending))

	_, err := tally.CompleteRun(context.Background(), testActor(), "run_1")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrPendingExceptions))
}

func TestGetRunSummary_CachesResult(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)

	mockDS.On("GetRunSummary", mock.Anything, "run_1").Return(draftRun(), nil)

	first, err := tally.GetRunSummary(context.Background(), testActor(), "run_1")
	require.NoError(t, err)
	second, err := tally.GetRunSummary(context.Background(), testActor(), "run_1")
	require.NoError(t, err)

	assert.Equal(t, first.RunID, second.RunID)
	mockDS.AssertNumberOfCalls(t, "GetRunSummary", 1)
}

func TestGetRunSummary_CachedCrossOrgReadsAsNotFound(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)

	mockDS.On("GetRunSummary", mock.Anything, "run_1").Return(draftRun(), nil)

	_, err := tally.GetRunSummary(context.Background(), testActor(), "run_1")
	require.NoError(t, err)

	other := model.ActorContext{OrganizationID: "org_other", ActorID: "user_5"}
	_, err = tally.GetRunSummary(context.Background(), other, "run_1")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestPreviewFile_SizeLimit(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)
	tally.upload.MaxFileBytes = 4

	_, err := tally.PreviewFile(context.Background(), []byte("12345"), "f.csv")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}

func TestListRuns(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	tally, _ := newTestTally(t, mockDS)

	mockDS.On("ListRuns", mock.Anything, "org_1", "cfg_1").Return([]*model.Run{draftRun()}, nil)

	runs, err := tally.ListRuns(context.Background(), testActor(), "cfg_1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run_1", runs[0].RunID)
}
