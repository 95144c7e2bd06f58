package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
	logx "pricewatch/pkg/logx"
)

// AppendHistory records one observation stamped with the store clock.
func (s *sqliteStore) AppendHistory(ctx context.Context, itemID int64, price decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history(item_id, price, timestamp) VALUES(?, ?, ?)`,
		itemID, price, s.nowMillis(),
	)
	return storeErr("append_history", err)
}

// PriceHistory returns observations at or after since, newest first.
func (s *sqliteStore) PriceHistory(ctx context.Context, itemID int64, since time.Time) ([]domain.PriceHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, price, timestamp
		 FROM price_history
		 WHERE item_id = ? AND timestamp >= ?
		 ORDER BY timestamp DESC, id DESC`,
		itemID, toMillis(since),
	)
	if err != nil {
		return nil, storeErr("price_history", err)
	}
	defer rows.Close()

	var out []domain.PriceHistory
	for rows.Next() {
		var (
			h  domain.PriceHistory
			ts int64
		)
		if err := rows.Scan(&h.ID, &h.ItemID, &h.Price, &ts); err != nil {
			return nil, storeErr("price_history", err)
		}
		h.Timestamp = fromMillis(ts)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("price_history", err)
	}
	return out, nil
}

// PruneHistoryOlderThan deletes rows with timestamp < now-age.
func (s *sqliteStore) PruneHistoryOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-age)
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_history WHERE timestamp < ?`, toMillis(cutoff))
	if err != nil {
		return 0, storeErr("prune_history", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("prune_history", err)
	}
	s.log.Debug("history pruned", logx.Int64("rows", n), logx.Time("cutoff", cutoff))
	return n, nil
}
