// Package persistence provides the order and execution audit store.
package persistence

import (
	"context"
	"time"

	"github.com/kaigouthro/trading-server/internal/types"
)

// Repository is the audit store for confirmed orders and fills. SaveOrder is
// an upsert keyed by client order id, so reconciliation can re-save a record
// on every status change.
type Repository interface {
	SaveOrder(ctx context.Context, rec types.OrderRecord) error
	GetOrder(ctx context.Context, orderID string) (*types.OrderRecord, error)
	GetOpenOrders(ctx context.Context) ([]types.OrderRecord, error)

	SaveExecution(ctx context.Context, exec types.Execution) error
	GetExecutions(ctx context.Context, orderID string) ([]types.Execution, error)
	GetExecutionsBetween(ctx context.Context, from, to time.Time) ([]types.Execution, error)

	Close() error
	Migrate(ctx context.Context) error
}
