package model

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidSubscription is returned when a push subscription lacks an
// endpoint or one of its encryption keys.
var ErrInvalidSubscription = errors.New("invalid subscription data")

// SubscriptionKeys holds the client keys needed to encrypt a push payload.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one browser push endpoint belonging to one user.
// It is unique per (UserID, Endpoint); re-subscribing replaces the keys.
type Subscription struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Endpoint  string           `json:"endpoint"`
	Keys      SubscriptionKeys `json:"keys"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Validate checks that the subscription can be used to deliver a push.
func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return ErrInvalidSubscription
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return ErrInvalidSubscription
	}
	return nil
}
