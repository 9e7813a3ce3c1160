package watch

import "context"

// Source lists and fetches the resources of a tenant.
type Source interface {
	// List returns every resource currently known for tenant.
	List(ctx context.Context, tenant string) ([]ResourceDescriptor, error)

	// Fetch returns the payload of one resource. An empty checksum disables
	// change detection for that payload.
	Fetch(ctx context.Context, tenant, resourceID string) (*Payload, error)
}

// StateStore persists ResourceState per (tenant, resource id).
type StateStore interface {
	// Get returns the stored state, or nil and no error when none exists.
	Get(ctx context.Context, tenant, resourceID string) (*ResourceState, error)

	// Put upserts state. It must be atomic per resource.
	Put(ctx context.Context, tenant string, state *ResourceState) error
}

// Action consumes a changed payload. Returning errors.ErrNoAction declines the
// payload without counting as a failure. The returned extensions are stored
// with the resource state on success.
type Action interface {
	Execute(ctx context.Context, tenant string, pc *ProcessContext, payload *Payload) (map[string]any, error)
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context, tenant string, pc *ProcessContext, payload *Payload) (map[string]any, error)

// Execute calls f.
func (f ActionFunc) Execute(ctx context.Context, tenant string, pc *ProcessContext, payload *Payload) (map[string]any, error) {
	return f(ctx, tenant, pc, payload)
}
