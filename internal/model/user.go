package model

import "time"

// User owns tasks and push subscriptions. The reminder pipeline only
// reads users.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}
