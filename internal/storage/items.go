package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
	logx "pricewatch/pkg/logx"
)

const itemColumns = `i.id, i.catalog_id, i.name, i.last_price, i.created_at, i.updated_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanItem(r rowScanner) (*domain.Item, error) {
	var (
		it                   domain.Item
		createdAt, updatedAt int64
	)
	if err := r.Scan(&it.ID, &it.CatalogID, &it.Name, &it.LastPrice, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	it.CreatedAt = fromMillis(createdAt)
	it.UpdatedAt = fromMillis(updatedAt)
	return &it, nil
}

func (s *sqliteStore) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	return getItem(ctx, s.db, "get_item", `SELECT `+itemColumns+` FROM items i WHERE i.id = ?`, itemID)
}

func (s *sqliteStore) GetItemByCatalogID(ctx context.Context, catalogID int64) (*domain.Item, error) {
	return getItem(ctx, s.db, "get_item_by_catalog_id", `SELECT `+itemColumns+` FROM items i WHERE i.catalog_id = ?`, catalogID)
}

func getItem(ctx context.Context, q queryer, op, query string, arg int64) (*domain.Item, error) {
	it, err := scanItem(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return it, nil
}

// GetOrCreateItem returns the item for catalogID, creating it from name and
// initial when it is not tracked yet. An existing item is returned untouched.
func (s *sqliteStore) GetOrCreateItem(ctx context.Context, catalogID int64, name string, initial decimal.NullDecimal) (*domain.Item, error) {
	var out *domain.Item
	err := s.withTx(ctx, "get_or_create_item", func(tx *sql.Tx) error {
		it, err := getOrCreateItemTx(ctx, tx, catalogID, name, initial, s.nowMillis())
		out = it
		return err
	})
	return out, err
}

func getOrCreateItemTx(ctx context.Context, tx *sql.Tx, catalogID int64, name string, initial decimal.NullDecimal, nowMS int64) (*domain.Item, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO items(catalog_id, name, last_price, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(catalog_id) DO NOTHING`,
		catalogID, name, initial, nowMS, nowMS,
	); err != nil {
		return nil, storeErr("get_or_create_item", err)
	}
	return getItem(ctx, tx, "get_or_create_item", `SELECT `+itemColumns+` FROM items i WHERE i.catalog_id = ?`, catalogID)
}

// AddSubscription links userID to the item for catalogID in one
// transaction, creating the user and the item as needed. Idempotent.
func (s *sqliteStore) AddSubscription(ctx context.Context, userID, catalogID int64, name string, initial decimal.NullDecimal) (*domain.Item, error) {
	var out *domain.Item
	err := s.withTx(ctx, "add_subscription", func(tx *sql.Tx) error {
		now := s.nowMillis()
		if err := upsertUserTx(ctx, tx, userID, s.defaultInterval, now); err != nil {
			return storeErr("add_subscription", err)
		}
		it, err := getOrCreateItemTx(ctx, tx, catalogID, name, initial, now)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscriptions(user_id, item_id, subscribed_at)
			 VALUES(?, ?, ?)
			 ON CONFLICT(user_id, item_id) DO NOTHING`,
			userID, it.ID, now,
		); err != nil {
			return storeErr("add_subscription", err)
		}
		out = it
		return nil
	})
	return out, err
}

// RemoveSubscription unlinks the pair and, in the same transaction, deletes
// the item if nobody else tracks it (history cascades with it).
func (s *sqliteStore) RemoveSubscription(ctx context.Context, userID, itemID int64) (bool, error) {
	removed := false
	err := s.withTx(ctx, "remove_subscription", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ? AND item_id = ?`, userID, itemID)
		if err != nil {
			return storeErr("remove_subscription", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storeErr("remove_subscription", err)
		}
		if n == 0 {
			return nil
		}
		removed = true
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM items
			 WHERE id = ? AND NOT EXISTS (SELECT 1 FROM subscriptions WHERE item_id = ?)`,
			itemID, itemID,
		); err != nil {
			return storeErr("remove_subscription", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		s.log.Debug("subscription removed", logx.Int64("user_id", userID), logx.Int64("item_id", itemID))
	}
	return removed, nil
}

// ItemsForUser lists the user's items, newest first.
func (s *sqliteStore) ItemsForUser(ctx context.Context, userID int64) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+`
		 FROM items i
		 JOIN subscriptions s ON s.item_id = i.id
		 WHERE s.user_id = ?
		 ORDER BY i.created_at DESC, i.id DESC`,
		userID,
	)
	if err != nil {
		return nil, storeErr("items_for_user", err)
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, storeErr("items_for_user", err)
		}
		out = append(out, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("items_for_user", err)
	}
	return out, nil
}

func (s *sqliteStore) IsSubscribed(ctx context.Context, userID, catalogID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM subscriptions s
			JOIN items i ON i.id = s.item_id
			WHERE s.user_id = ? AND i.catalog_id = ?)`,
		userID, catalogID,
	).Scan(&ok)
	if err != nil {
		return false, storeErr("is_subscribed", err)
	}
	return ok, nil
}

func (s *sqliteStore) ItemSubscribers(ctx context.Context, itemID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM subscriptions WHERE item_id = ? ORDER BY user_id`, itemID)
	if err != nil {
		return nil, storeErr("item_subscribers", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("item_subscribers", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("item_subscribers", err)
	}
	return out, nil
}

func (s *sqliteStore) UpdateItemPrice(ctx context.Context, itemID int64, price decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET last_price = ?, updated_at = ? WHERE id = ?`,
		price, s.nowMillis(), itemID,
	)
	return rowsOrNotFound("update_item_price", res, err)
}
