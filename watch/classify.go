package watch

import "time"

// Classify decides what to do with a listed resource given its last known
// state. Rules are checked in order:
//
//  1. no state                       → New
//  2. ban still active at now        → Banned
//  3. ban set but elapsed            → RetryAfterBan
//  4. retry count above zero         → Retry
//  5. listing newer than the state   → Updated
//  6. otherwise                      → NothingToDo
func Classify(current ResourceDescriptor, last *ResourceState, now time.Time) ProcessType {
	switch {
	case last == nil:
		return ProcessNew
	case last.BannedUntil != nil && last.BannedUntil.After(now):
		return ProcessBanned
	case last.BannedUntil != nil:
		return ProcessRetryAfterBan
	case last.RetryCount > 0:
		return ProcessRetry
	case current.Modified.After(last.Modified):
		return ProcessUpdated
	default:
		return ProcessNothingToDo
	}
}
