// Package subscription tracks prepaid ride entitlements. The engine only ever
// consumes one entitlement at a time; plans and billing live elsewhere.
package subscription

import (
	"database/sql"

	"github.com/google/uuid"
)

type Subscription struct {
	ID         uuid.UUID
	UserID     uuid.UUID `db:"user_id"`
	Status     string
	UsageCount int           `db:"usage_count"`
	MaxUsages  sql.NullInt32 `db:"max_usages"`
}
