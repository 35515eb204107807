package xjob

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	j, err := New("cubeX", WithName("build"), WithParam("duration", "1s"))
	require.NoError(t, err)

	assert.NotEmpty(t, j.ID)
	assert.Equal(t, "cubeX", j.Key)
	assert.Equal(t, "build", j.Name)
	assert.Equal(t, DefaultType, j.Type)
	assert.Equal(t, StatusReady, j.Status)
	assert.Equal(t, map[string]string{"duration": "1s"}, j.Params)
	assert.False(t, j.CreatedAt.IsZero())
	assert.Equal(t, j.CreatedAt, j.UpdatedAt)
}

func TestNew_Options(t *testing.T) {
	j, err := New("k",
		WithID("fixed"),
		WithType("sleep"),
		WithType(""),
		WithParams(map[string]string{"a": "1"}),
		WithParams(nil),
		WithParam("b", "2"),
	)
	require.NoError(t, err)
	assert.Equal(t, "fixed", j.ID)
	assert.Equal(t, "sleep", j.Type)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, j.Params)
}

func TestNew_InvalidKey(t *testing.T) {
	for _, key := range []string{"", "a/b", "/", "_xjob_maintenance", ReservedKeyPrefix} {
		_, err := New(key)
		assert.ErrorIs(t, err, ErrInvalidJob, key)
	}
	assert.NoError(t, ValidateKey("xjob_maintenance"))
	assert.True(t, IsReservedKey("_xjob_maintenance"))
}

func TestNew_UniqueIDs(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		j, err := New("k")
		require.NoError(t, err)
		_, dup := seen[j.ID]
		require.False(t, dup, "duplicate id %s", j.ID)
		seen[j.ID] = struct{}{}
	}
}

func TestJob_Clone(t *testing.T) {
	var nilJob *Job
	assert.Nil(t, nilJob.Clone())

	j, err := New("k", WithParam("a", "1"))
	require.NoError(t, err)
	c := j.Clone()
	c.Params["a"] = "2"
	c.Status = StatusRunning

	assert.Equal(t, "1", j.Params["a"])
	assert.Equal(t, StatusReady, j.Status)
}

func TestJob_Transition(t *testing.T) {
	j, err := New("k")
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.Transition(StatusRunning, start, WithNode("node-a")))
	assert.Equal(t, StatusRunning, j.Status)
	assert.Equal(t, "node-a", j.Node)
	assert.Equal(t, start, j.StartedAt)
	assert.True(t, j.FinishedAt.IsZero())

	end := start.Add(time.Minute)
	require.NoError(t, j.Transition(StatusError, end, WithMessage("boom")))
	assert.Equal(t, StatusError, j.Status)
	assert.Equal(t, "node-a", j.Node, "node kept when not given")
	assert.Equal(t, "boom", j.Message)
	assert.Equal(t, end, j.FinishedAt)
	assert.Equal(t, end, j.UpdatedAt)

	err = j.Transition(StatusRunning, end)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusError, j.Status, "failed transition leaves job untouched")
}

func TestCompareAge(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs := []*Job{
		{ID: "b", CreatedAt: base},
		{ID: "z", CreatedAt: base.Add(time.Second)},
		{ID: "aa", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}
	slices.SortFunc(jobs, CompareAge)

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"a", "b", "aa", "z"}, ids)
}

func TestJob_JSONOmitsZeroTimes(t *testing.T) {
	j, err := New("k", WithID("1"))
	require.NoError(t, err)
	data, err := json.Marshal(j)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "started_at")
	assert.NotContains(t, string(data), "finished_at")
	assert.Contains(t, string(data), `"status":"READY"`)
}

func TestFilter_Match(t *testing.T) {
	j := &Job{Key: "k", Status: StatusReady}
	assert.True(t, Filter{}.Match(j))
	assert.True(t, Filter{Key: "k"}.Match(j))
	assert.False(t, Filter{Key: "other"}.Match(j))
	assert.True(t, Filter{Statuses: []Status{StatusRunning, StatusReady}}.Match(j))
	assert.False(t, Filter{Key: "k", Statuses: []Status{StatusRunning}}.Match(j))
}
