package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-reminders/internal/model"
	"github.com/nhle/task-reminders/internal/store"
	"github.com/nhle/task-reminders/internal/testutil"
)

func TestUpsertSubscriptionReplacesKeys(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	u := testutil.SeedUser(t, s, "Ada", "ada@example.com")

	first := testutil.SeedSubscription(t, s, u.ID, "https://push.example.com/a")

	again, err := s.UpsertSubscription(ctx, model.Subscription{
		UserID:   u.ID,
		Endpoint: "https://push.example.com/a",
		Keys:     model.SubscriptionKeys{P256dh: "new-key", Auth: "new-auth"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	subs, err := s.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "new-key", subs[0].Keys.P256dh)
	assert.Equal(t, "new-auth", subs[0].Keys.Auth)
}

func TestSubscriptionsPerUser(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	ada := testutil.SeedUser(t, s, "Ada", "ada@example.com")
	bob := testutil.SeedUser(t, s, "Bob", "bob@example.com")

	testutil.SeedSubscription(t, s, ada.ID, "https://push.example.com/phone")
	testutil.SeedSubscription(t, s, ada.ID, "https://push.example.com/laptop")

	subs, err := s.FindByUserID(ctx, ada.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	subs, err = s.FindByUserID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	require.NoError(t, s.DeleteSubscription(ctx, ada.ID, "https://push.example.com/phone"))
	subs, err = s.FindByUserID(ctx, ada.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example.com/laptop", subs[0].Endpoint)

	err = s.DeleteSubscription(ctx, ada.ID, "https://push.example.com/phone")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertSubscriptionRejectsMissingKeys(t *testing.T) {
	s := testutil.NewTestStore(t)
	u := testutil.SeedUser(t, s, "Ada", "ada@example.com")

	_, err := s.UpsertSubscription(context.Background(), model.Subscription{
		UserID:   u.ID,
		Endpoint: "https://push.example.com/a",
	})
	assert.ErrorIs(t, err, model.ErrInvalidSubscription)
}
