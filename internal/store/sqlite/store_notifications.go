package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/koltyakov/vpnfleet/internal/domain"
)

// AddNotification records a user-visible message against an account.
func (s *Store) AddNotification(ctx context.Context, accountID, text string, now time.Time) (domain.Notification, error) {
	n := domain.Notification{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Text:      text,
		CreatedAt: now.UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notifications(id, account_id, text, created_at)
VALUES(?, ?, ?, ?)`, n.ID, n.AccountID, n.Text, nanos(n.CreatedAt))
	return n, err
}

// ListNotifications returns an account's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, accountID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, text, created_at
FROM notifications
WHERE account_id = ?
ORDER BY created_at DESC
LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var created int64
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Text, &created); err != nil {
			return nil, err
		}
		n.CreatedAt = fromNanos(created)
		out = append(out, n)
	}
	return out, rows.Err()
}
