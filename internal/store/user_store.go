package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/task-reminders/internal/model"
)

type userRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) toModel() model.User {
	return model.User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// CreateUser inserts a user. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	user.Email = strings.TrimSpace(strings.ToLower(user.Email))
	user.Name = strings.TrimSpace(user.Name)
	if user.Email == "" {
		return model.User{}, fmt.Errorf("user email must not be empty")
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Name, user.Email, user.CreatedAt,
	)
	if err != nil {
		return model.User{}, fmt.Errorf("creating user %s: %w", user.Email, err)
	}
	return user, nil
}

// GetUserByID retrieves a single user.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, name, email, created_at FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	user := row.toModel()
	return &user, nil
}

// GetUsersByIDs loads the users with the given IDs, keyed by ID.
// Unknown IDs are absent from the result.
func (s *SQLiteStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]model.User, error) {
	users := make(map[string]model.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	for start := 0; start < len(ids); start += bulkChunkSize {
		end := min(start+bulkChunkSize, len(ids))

		query, args, err := sqlx.In(
			"SELECT id, name, email, created_at FROM users WHERE id IN (?)",
			ids[start:end],
		)
		if err != nil {
			return nil, fmt.Errorf("building user query: %w", err)
		}

		var rows []userRow
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("querying users: %w", err)
		}
		for _, r := range rows {
			users[r.ID] = r.toModel()
		}
	}

	return users, nil
}
