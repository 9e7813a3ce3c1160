package watch

import (
	"maps"
	"time"
)

// Extension keys written by the policy on failure.
const (
	ExtLastError     = "last_error"
	ExtLastFailureAt = "last_failure_at"
)

// Policy computes the next ResourceState after a processing outcome.
// It never deletes state.
type Policy struct {
	BanThreshold int
	BanDuration  time.Duration
}

// OnSuccess clears retry and ban bookkeeping and records the new observation.
// The action's extensions replace the previous ones.
func (p Policy) OnSuccess(state ResourceState, checksum string, modified time.Time, extensions map[string]any) ResourceState {
	state.Checksum = checksum
	state.Modified = modified
	state.RetryCount = 0
	state.BannedUntil = nil
	state.Extensions = maps.Clone(extensions)
	return state
}

// OnUnchanged records a new observation for a resource that had nothing to
// do: the checksum and modified time move forward so the resource settles,
// while retry and ban bookkeeping stay exactly as they were.
func (p Policy) OnUnchanged(state ResourceState, checksum string, modified time.Time) ResourceState {
	state.Checksum = checksum
	state.Modified = modified
	state.Extensions = maps.Clone(state.Extensions)
	return state
}

// OnFailure counts the failure and bans the resource once the retry count
// reaches the threshold. The retry count is kept while banned so a later run
// classifies the resource as RetryAfterBan rather than Retry.
func (p Policy) OnFailure(state ResourceState, cause error, now time.Time) ResourceState {
	state.RetryCount++

	ext := make(map[string]any, len(state.Extensions)+2)
	maps.Copy(ext, state.Extensions)
	if cause != nil {
		ext[ExtLastError] = cause.Error()
	}
	ext[ExtLastFailureAt] = now.UTC().Format(time.RFC3339)
	state.Extensions = ext

	if p.BanThreshold > 0 && state.RetryCount >= p.BanThreshold {
		until := now.Add(p.BanDuration)
		state.BannedUntil = &until
	} else {
		state.BannedUntil = nil
	}
	return state
}
