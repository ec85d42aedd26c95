package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/task-reminders/internal/model"
)

type subscriptionRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Endpoint  string    `db:"endpoint"`
	P256dh    string    `db:"p256dh"`
	Auth      string    `db:"auth"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r subscriptionRow) toModel() model.Subscription {
	return model.Subscription{
		ID:       r.ID,
		UserID:   r.UserID,
		Endpoint: r.Endpoint,
		Keys: model.SubscriptionKeys{
			P256dh: r.P256dh,
			Auth:   r.Auth,
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// UpsertSubscription stores a push endpoint for a user. Re-subscribing the
// same endpoint replaces its keys instead of adding a duplicate.
func (s *SQLiteStore) UpsertSubscription(
	ctx context.Context,
	sub model.Subscription,
) (model.Subscription, error) {
	if err := sub.Validate(); err != nil {
		return model.Subscription{}, err
	}
	if sub.UserID == "" {
		return model.Subscription{}, fmt.Errorf("subscription user must not be empty")
	}

	newID := uuid.New().String()
	now := time.Now().UTC()

	var id string
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO subscriptions (id, user_id, endpoint, p256dh, auth, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			updated_at = excluded.updated_at
		RETURNING id`,
		newID, sub.UserID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, now, now,
	).Scan(&id)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("upserting subscription for user %s: %w", sub.UserID, err)
	}

	sub.ID = id
	sub.UpdatedAt = now
	if id == newID {
		sub.CreatedAt = now
	}
	return sub, nil
}

// FindByUserID returns every push endpoint registered by a user.
func (s *SQLiteStore) FindByUserID(ctx context.Context, userID string) ([]model.Subscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, endpoint, p256dh, auth, created_at, updated_at
		FROM subscriptions
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions for user %s: %w", userID, err)
	}

	subs := make([]model.Subscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.toModel())
	}
	return subs, nil
}

// DeleteSubscription removes one endpoint of a user.
func (s *SQLiteStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE user_id = ? AND endpoint = ?",
		userID, endpoint,
	)
	if err != nil {
		return fmt.Errorf("deleting subscription for user %s: %w", userID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("subscription %s: %w", endpoint, ErrNotFound)
	}
	return nil
}
