// Package repository defines the Order Repository contract (spec
// §4.7) and a Postgres-backed implementation. Ownership is enforced at
// the query layer: a caller asking for another owner's order gets
// NotFound, never Forbidden, so the repository never leaks whether an
// order ID exists to someone who doesn't own it.
package repository

import (
	"context"

	"github.com/quantrail/twapbook/internal/model"
)

// Repository is the persistence boundary the TWAP engine and HTTP API
// depend on. add_parent_order/append_execution/update_parent_state/
// get_orders/get_executions from spec §4.7 map onto these methods.
type Repository interface {
	AddParentOrder(ctx context.Context, order *model.ParentOrder) error
	AppendExecution(ctx context.Context, exec model.Execution) (int64, error)
	UpdateParentState(ctx context.Context, order *model.ParentOrder) error

	// GetOrders lists every order owned by owner, newest first. An
	// admin-scoped listing is the caller's responsibility (pass
	// owner == "" is not supported; httpapi resolves the admin "all
	// orders" case by iterating users, not by special-casing here).
	GetOrders(ctx context.Context, owner string) ([]model.ParentOrder, error)

	// GetOrder returns the order only if owner owns it; otherwise
	// NotFound, even if the order exists under a different owner.
	GetOrder(ctx context.Context, owner, orderID string) (*model.ParentOrder, error)

	// GetExecutions lists an order's fills, oldest first, subject to
	// the same ownership scoping as GetOrder.
	GetExecutions(ctx context.Context, owner, orderID string) ([]model.Execution, error)
}

// UserStore is the identity-side persistence boundary backing the Auth
// Gate and the /users admin route.
type UserStore interface {
	CreateUser(ctx context.Context, user model.User, passwordHash string) error
	GetUserByUsername(ctx context.Context, username string) (model.User, string, error)
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]model.User, error)
}
