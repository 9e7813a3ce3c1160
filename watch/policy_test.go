package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/resourcewatch/errors"
)

func TestPolicyOnSuccessResets(t *testing.T) {
	now := time.Now()
	until := now.Add(time.Hour)
	p := Policy{BanThreshold: 3, BanDuration: time.Hour}

	prev := ResourceState{
		ResourceID:  "a",
		Checksum:    "old",
		RetryCount:  3,
		BannedUntil: &until,
		Extensions:  map[string]any{ExtLastError: "x"},
	}
	next := p.OnSuccess(prev, "new", now, map[string]any{"k": 1})

	assert.Equal(t, "a", next.ResourceID)
	assert.Equal(t, "new", next.Checksum)
	assert.Equal(t, now, next.Modified)
	assert.Zero(t, next.RetryCount)
	assert.Nil(t, next.BannedUntil)
	assert.Equal(t, map[string]any{"k": 1}, next.Extensions)
	assert.Equal(t, 3, prev.RetryCount, "input must not be modified")
}

func TestPolicyOnUnchangedKeepsRetryState(t *testing.T) {
	now := time.Now()
	until := now.Add(time.Hour)
	p := Policy{BanThreshold: 3, BanDuration: time.Hour}

	prev := ResourceState{
		ResourceID:  "a",
		Checksum:    "old",
		Modified:    now.Add(-time.Hour),
		RetryCount:  2,
		BannedUntil: &until,
		Extensions:  map[string]any{ExtLastError: "boom"},
	}
	next := p.OnUnchanged(prev, "new", now)

	assert.Equal(t, "new", next.Checksum)
	assert.True(t, now.Equal(next.Modified))
	assert.Equal(t, 2, next.RetryCount)
	require.NotNil(t, next.BannedUntil)
	assert.True(t, until.Equal(*next.BannedUntil))
	assert.Equal(t, "boom", next.Extensions[ExtLastError])

	next.Extensions["k"] = "v"
	assert.NotContains(t, prev.Extensions, "k")
}

func TestPolicyOnFailureBansAtThreshold(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{BanThreshold: 3, BanDuration: 2 * time.Hour}
	cause := errors.New("boom")

	st := ResourceState{ResourceID: "a", Checksum: "c1"}
	for i := 1; i < 3; i++ {
		st = p.OnFailure(st, cause, now)
		assert.Equal(t, i, st.RetryCount)
		assert.Nil(t, st.BannedUntil)
		assert.Equal(t, ProcessRetry, Classify(ResourceDescriptor{ResourceID: "a"}, &st, now))
	}

	st = p.OnFailure(st, cause, now)
	assert.Equal(t, 3, st.RetryCount)
	require.NotNil(t, st.BannedUntil)
	assert.Equal(t, now.Add(2*time.Hour), *st.BannedUntil)
	assert.Equal(t, "c1", st.Checksum, "checksum is kept on failure")
	assert.Equal(t, "boom", st.Extensions[ExtLastError])
	assert.Equal(t, now.Format(time.RFC3339), st.Extensions[ExtLastFailureAt])

	assert.Equal(t, ProcessBanned, Classify(ResourceDescriptor{ResourceID: "a"}, &st, now.Add(time.Hour)))
	assert.Equal(t, ProcessRetryAfterBan, Classify(ResourceDescriptor{ResourceID: "a"}, &st, now.Add(3*time.Hour)))

	// A failure after the ban is lifted bans again.
	later := now.Add(3 * time.Hour)
	st = p.OnFailure(st, cause, later)
	assert.Equal(t, 4, st.RetryCount)
	require.NotNil(t, st.BannedUntil)
	assert.Equal(t, later.Add(2*time.Hour), *st.BannedUntil)
}

func TestPolicyZeroThresholdNeverBans(t *testing.T) {
	p := Policy{}
	st := ResourceState{ResourceID: "a"}
	for i := 0; i < 10; i++ {
		st = p.OnFailure(st, errors.New("boom"), time.Now())
	}
	assert.Equal(t, 10, st.RetryCount)
	assert.Nil(t, st.BannedUntil)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Parallelism = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BanDuration = 0
	assert.Error(t, cfg.Validate())

	cfg.BanThreshold = 0
	assert.NoError(t, cfg.Validate(), "ban duration is irrelevant when banning is off")

	cfg = DefaultConfig()
	cfg.ConsecutiveFailureLimit = -1
	assert.Error(t, cfg.Validate())
}
