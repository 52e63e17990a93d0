package store

import (
	"context"

	"bookshop-service/internal/models"

	"go.uber.org/zap"
)

// stock holds one row per physical variant; ebook is conceptually unlimited
// and has no row.

type stockRow struct {
	Variant  models.BookVariant `db:"variant"`
	Quantity int                `db:"quantity"`
}

// GetStockLevels returns the current counters. It never fails the caller: on a
// read error it logs and returns a zero-filled default, so a broken ledger
// reads as sold out rather than breaking the storefront. The decrement path
// fails closed separately inside PlacePendingOrder.
func (s *Store) GetStockLevels(ctx context.Context) models.StockLevels {
	levels := models.StockLevels{Ebook: models.EbookStockLevel}

	var rows []stockRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT variant, quantity FROM stock"); err != nil {
		s.logger.Error("Failed to read stock levels", zap.Error(err))
		return levels
	}

	for _, r := range rows {
		switch r.Variant {
		case models.VariantPaperback:
			levels.Paperback = r.Quantity
		case models.VariantHardcover:
			levels.Hardcover = r.Quantity
		}
	}
	return levels
}

// SetStockLevels is the administrative absolute overwrite. Idempotent upsert;
// the ebook counter is not stored.
func (s *Store) SetStockLevels(ctx context.Context, levels models.StockLevels) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO stock (variant, quantity) VALUES ($1, $2)
		ON CONFLICT (variant) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`

	if _, err := tx.ExecContext(ctx, upsert, models.VariantPaperback, levels.Paperback); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsert, models.VariantHardcover, levels.Hardcover); err != nil {
		return err
	}

	return tx.Commit()
}
