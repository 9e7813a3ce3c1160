package watch

import (
	"context"
	"sync"
	"time"

	"github.com/teranos/resourcewatch/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	mu       sync.Mutex
	list     []ResourceDescriptor
	listErr  error
	payloads map[string]*Payload
	fetchErr map[string]error
	fetches  map[string]int
}

func newFakeSource(descs ...ResourceDescriptor) *fakeSource {
	return &fakeSource{
		list:     descs,
		payloads: map[string]*Payload{},
		fetchErr: map[string]error{},
		fetches:  map[string]int{},
	}
}

func (s *fakeSource) List(ctx context.Context, tenant string) ([]ResourceDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]ResourceDescriptor, len(s.list))
	copy(out, s.list)
	return out, nil
}

func (s *fakeSource) Fetch(ctx context.Context, tenant, id string) (*Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[id]++
	if err := s.fetchErr[id]; err != nil {
		return nil, err
	}
	if p, ok := s.payloads[id]; ok {
		return p, nil
	}
	return &Payload{Data: []byte(id), Checksum: "sum-" + id}, nil
}

func (s *fakeSource) setPayload(id, checksum string) {
	s.mu.Lock()
	s.payloads[id] = &Payload{Data: []byte(checksum), Checksum: checksum}
	s.mu.Unlock()
}

func (s *fakeSource) setModified(id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ResourceID == id {
			s.list[i].Modified = t
		}
	}
}

func (s *fakeSource) totalFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.fetches {
		n += c
	}
	return n
}

type fakeStore struct {
	mu     sync.Mutex
	states map[string]*ResourceState
	puts   int
	putErr   error
	getErr   error
	putPanic string // resource id whose Put panics
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: map[string]*ResourceState{}}
}

func (s *fakeStore) Get(ctx context.Context, tenant, id string) (*ResourceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.states[tenant+"/"+id].Clone(), nil
}

func (s *fakeStore) Put(ctx context.Context, tenant string, st *ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putPanic != "" && st.ResourceID == s.putPanic {
		panic("store corrupted")
	}
	if s.putErr != nil {
		return s.putErr
	}
	s.states[tenant+"/"+st.ResourceID] = st.Clone()
	return nil
}

func (s *fakeStore) state(tenant, id string) *ResourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[tenant+"/"+id].Clone()
}

func (s *fakeStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// failingAction fails resources listed in fail and succeeds otherwise.
type failingAction struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
}

func newFailingAction(ids ...string) *failingAction {
	a := &failingAction{fail: map[string]bool{}, calls: map[string]int{}}
	for _, id := range ids {
		a.fail[id] = true
	}
	return a
}

func (a *failingAction) Execute(ctx context.Context, tenant string, pc *ProcessContext, p *Payload) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[pc.Current.ResourceID]++
	if a.fail[pc.Current.ResourceID] {
		return nil, errors.New("boom")
	}
	return map[string]any{"handled": p.Checksum}, nil
}

func (a *failingAction) setFail(id string, fail bool) {
	a.mu.Lock()
	a.fail[id] = fail
	a.mu.Unlock()
}

type recorder struct {
	NopObserver

	mu        sync.Mutex
	events    []string
	stops     []ResourceEvent
	slowRes   []SlowEvent
	slowRuns  []SlowEvent
	dups      []FatalEvent
	saveFails []FatalEvent
	limits    []FatalEvent
	summaries []*RunSummary
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
}

func (r *recorder) RunStart(RunStartEvent)         { r.add("run_start") }
func (r *recorder) ListStart(ListStartEvent)       { r.add("list_start") }
func (r *recorder) ListStop(ListStopEvent)         { r.add("list_stop") }
func (r *recorder) ClassifyStop(ClassifyStopEvent) { r.add("classify_stop") }
func (r *recorder) ResourceStart(ResourceEvent)    { r.add("resource_start") }

func (r *recorder) RunStop(s *RunSummary) {
	r.mu.Lock()
	r.events = append(r.events, "run_stop")
	r.summaries = append(r.summaries, s)
	r.mu.Unlock()
}

func (r *recorder) ResourceStop(e ResourceEvent) {
	r.mu.Lock()
	r.events = append(r.events, "resource_stop")
	r.stops = append(r.stops, e)
	r.mu.Unlock()
}

func (r *recorder) RunTookTooLong(e SlowEvent) {
	r.mu.Lock()
	r.slowRuns = append(r.slowRuns, e)
	r.mu.Unlock()
}

func (r *recorder) ResourceTookTooLong(e SlowEvent) {
	r.mu.Lock()
	r.slowRes = append(r.slowRes, e)
	r.mu.Unlock()
}

func (r *recorder) DuplicateResourceID(e FatalEvent) {
	r.mu.Lock()
	r.dups = append(r.dups, e)
	r.mu.Unlock()
}

func (r *recorder) StateSaveFailed(e FatalEvent) {
	r.mu.Lock()
	r.saveFails = append(r.saveFails, e)
	r.mu.Unlock()
}

func (r *recorder) ConsecutiveFailureLimitReached(e FatalEvent) {
	r.mu.Lock()
	r.limits = append(r.limits, e)
	r.mu.Unlock()
}

func (r *recorder) eventNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func descriptors(modified time.Time, ids ...string) []ResourceDescriptor {
	out := make([]ResourceDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, ResourceDescriptor{ResourceID: id, Modified: modified})
	}
	return out
}
