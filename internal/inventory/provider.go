// Package inventory supplies the external view of the worker fleet: a flat
// list of reachable node addresses the node pool reconciles against.
package inventory

import "context"

// Provider is one of a closed set of inventory backends selected at
// startup. Add and Remove may be unsupported; callers check CanAdd and
// CanRemove first and treat model.ErrUnsupported as definitive.
type Provider interface {
	ListLiveAddresses(ctx context.Context) ([]string, error)
	Add(ctx context.Context, address string) error
	Remove(ctx context.Context, address string) error
	CanAdd() bool
	CanRemove() bool
}
