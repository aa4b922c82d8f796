// Package wallet is the ledger used to pre-authorize and refund funds.
// Balances are integers in minor currency units; every mutation appends a
// transaction row tagged with a deterministic idempotency hash.
package wallet

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type WalletStatus string

const (
	StatusActive WalletStatus = "ACTIVE"
	StatusFrozen WalletStatus = "FROZEN"
)

type Wallet struct {
	ID      uuid.UUID
	UserID  uuid.UUID `db:"user_id"`
	Balance int64
	Status  WalletStatus
}

// Transaction is one append-only ledger row. Amount is signed: debits are
// negative, credits positive. At most one row exists per hash.
type Transaction struct {
	ID          uuid.UUID
	WalletID    uuid.UUID `db:"wallet_id"`
	Amount      int64
	Hash        string
	Description sql.NullString
	CreatedAt   time.Time `db:"created_at"`
}
