package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyops/tally/model"
)

// mapCache round-trips values through JSON the way the redis cache
// does, without a server.
type mapCache struct {
	entries map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (m *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *mapCache) Get(_ context.Context, key string, data interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, data)
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

func TestRunKey_Namespaced(t *testing.T) {
	assert.Equal(t, "tally:run:run_1", RunKey("run_1"))
}

func TestRunSummary_RoundTrip(t *testing.T) {
	c := newMapCache()
	ctx := context.Background()

	run := &model.Run{RunID: "run_1", OrganizationID: "org_1", Status: model.RunStatusMatched}
	require.NoError(t, SetRunSummary(ctx, c, run))

	cached := GetRunSummary(ctx, c, "run_1")
	require.NotNil(t, cached)
	assert.Equal(t, "org_1", cached.OrganizationID)
	assert.Equal(t, model.RunStatusMatched, cached.Status)
}

func TestGetRunSummary_Miss(t *testing.T) {
	c := newMapCache()
	assert.Nil(t, GetRunSummary(context.Background(), c, "run_1"))
}

func TestGetRunSummary_StaleEntry(t *testing.T) {
	c := newMapCache()
	ctx := context.Background()

	// an entry that decodes but does not belong to the requested run
	// must read as a miss
	require.NoError(t, c.Set(ctx, RunKey("run_1"), &model.Run{RunID: "run_2"}, time.Minute))
	assert.Nil(t, GetRunSummary(ctx, c, "run_1"))
}

func TestInvalidateRun(t *testing.T) {
	c := newMapCache()
	ctx := context.Background()

	require.NoError(t, SetRunSummary(ctx, c, &model.Run{RunID: "run_1"}))
	require.NoError(t, InvalidateRun(ctx, c, "run_1"))
	assert.Nil(t, GetRunSummary(ctx, c, "run_1"))
}
