package server

import (
	"context"
	"errors"

	"github.com/waveline-labs/chatflow/flow"
)

// Sentinel errors for store operations.
var (
	ErrFlowExists   = errors.New("flow already exists")
	ErrFlowNotFound = errors.New("flow not found")
)

// FlowStore provides CRUD operations for persisted flows. The flow
// definition (nodes and edges) is stored opaquely; only metadata columns
// are queryable.
type FlowStore interface {
	List(ctx context.Context) ([]flow.Flow, error)
	Get(ctx context.Context, id string) (flow.Flow, bool, error)
	Create(ctx context.Context, f flow.Flow) error
	Update(ctx context.Context, f flow.Flow) error
	Delete(ctx context.Context, id string) error
}
