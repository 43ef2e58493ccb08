package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

// CreateTables builds the allocation schema straight from the bun models.
// The SQL migrations own the production schema; this bootstrap exists for
// tests and local runs against a fresh database.
func CreateTables(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Slot)(nil),
		(*models.Booking)(nil),
		(*models.WaitlistEntry)(nil),
	}
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}
