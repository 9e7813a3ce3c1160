package telemetry

import (
	"context"
	"time"

	"github.com/teranos/resourcewatch/state"
	"github.com/teranos/resourcewatch/watch"
)

type staticSource struct {
	ids []string
}

func (s *staticSource) List(ctx context.Context, tenant string) ([]watch.ResourceDescriptor, error) {
	out := make([]watch.ResourceDescriptor, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, watch.ResourceDescriptor{ResourceID: id, Modified: time.Unix(1700000000, 0)})
	}
	return out, nil
}

func (s *staticSource) Fetch(ctx context.Context, tenant, id string) (*watch.Payload, error) {
	return &watch.Payload{Data: []byte(id), Checksum: id}, nil
}

func newMemStore() *state.MemStore {
	return state.NewMemStore()
}

type limitRecorder struct {
	watch.NopObserver
	events []watch.FatalEvent
}

func (r *limitRecorder) ConsecutiveFailureLimitReached(e watch.FatalEvent) {
	r.events = append(r.events, e)
}
