package pipeline

import (
	"context"

	"github.com/vaakshakti/pipeline/internal/models"
)

// Executor runs one analysis kind. Implementations must be idempotent:
// executing the same input twice yields the same result, so at-least-once
// work delivery is safe. An executor mutates nothing but its own output;
// the worker pool owns the state write-back.
type Executor interface {
	Kind() models.ComponentKind
	Execute(ctx context.Context, in models.ComponentInput) (interface{}, error)
}

// Registry resolves the executor for a component kind. The production
// registry is a closed mapping built at construction time.
type Registry interface {
	ForKind(kind models.ComponentKind) (Executor, bool)
}
