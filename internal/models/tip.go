package models

import (
	"time"

	"github.com/google/uuid"
)

// TipAccount is the locally held tip balance, distinct from the
// externally held point balance. Created lazily on first touch and
// never deleted.
type TipAccount struct {
	ID        string
	CreatedAt time.Time
	Balance   int64
}

// TipTransaction is one append-only audit row per completed bulk tip.
type TipTransaction struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	UserID         string
	RecipientCount int
	Amount         int64
}

// TipEntry is a single recipient row of a bulk tip, as parsed from the
// uploaded CSV.
type TipEntry struct {
	UserID string `validate:"required"`
	Amount int64  `validate:"gt=0"`
	Note   string
}

// Total sums entry amounts.
func Total(entries []TipEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	return total
}
