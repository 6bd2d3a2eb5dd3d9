package service

import (
	"context"
	"testing"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartAddItemMerges(t *testing.T) {
	db := newTestDB(t)
	svc := NewCartService(db, testLogger())
	ctx := context.Background()
	user := seedUser(t, db, "alice", models.RoleCustomer)
	p := seedProduct(t, db, "Croissants", "3.99", 5, "bakery")

	first, err := svc.AddItem(ctx, user.ID, p.ID, 2)
	require.NoError(t, err)
	second, err := svc.AddItem(ctx, user.ID, p.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Quantity)
	assert.EqualValues(t, 1, countRows(t, db, &models.CartLine{}))

	_, err = svc.AddItem(ctx, user.ID, p.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	line, err := svc.Line(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, line.Quantity)
}

func TestCartAddItemErrors(t *testing.T) {
	db := newTestDB(t)
	svc := NewCartService(db, testLogger())
	ctx := context.Background()
	user := seedUser(t, db, "alice", models.RoleCustomer)
	p := seedProduct(t, db, "Croissants", "3.99", 5, "bakery")

	_, err := svc.AddItem(ctx, user.ID, 999, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.AddItem(ctx, user.ID, p.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.AddItem(ctx, user.ID, p.ID, 6)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Zero(t, countRows(t, db, &models.CartLine{}))
}

func TestCartUpdateQuantity(t *testing.T) {
	db := newTestDB(t)
	svc := NewCartService(db, testLogger())
	ctx := context.Background()
	user := seedUser(t, db, "alice", models.RoleCustomer)
	p := seedProduct(t, db, "Fresh Milk", "3.49", 4, "dairy")

	line, err := svc.AddItem(ctx, user.ID, p.ID, 1)
	require.NoError(t, err)

	updated, err := svc.UpdateQuantity(ctx, line.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)

	_, err = svc.UpdateQuantity(ctx, line.ID, 5)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	_, err = svc.UpdateQuantity(ctx, line.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.UpdateQuantity(ctx, 999, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCartReadAndRemove(t *testing.T) {
	db := newTestDB(t)
	svc := NewCartService(db, testLogger())
	ctx := context.Background()
	alice := seedUser(t, db, "alice", models.RoleCustomer)
	bob := seedUser(t, db, "bob", models.RoleCustomer)
	apples := seedProduct(t, db, "Red Apples", "2.59", 50, "fruits")
	milk := seedProduct(t, db, "Fresh Milk", "3.49", 30, "dairy")

	_, err := svc.AddItem(ctx, alice.ID, apples.ID, 3)
	require.NoError(t, err)
	milkLine, err := svc.AddItem(ctx, alice.ID, milk.ID, 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, bob.ID, milk.ID, 1)
	require.NoError(t, err)

	cart, err := svc.GetCart(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, "14.75", cart.Total.StringFixed(2))
	assert.Equal(t, 2, cart.ItemCount)
	for _, it := range cart.Items {
		switch it.ProductID {
		case apples.ID:
			assert.Equal(t, "7.77", it.Subtotal.StringFixed(2))
			assert.Equal(t, "Red Apples", it.Name)
		case milk.ID:
			assert.Equal(t, milkLine.ID, it.LineID)
			assert.Equal(t, "6.98", it.Subtotal.StringFixed(2))
		default:
			t.Fatalf("unexpected product %d", it.ProductID)
		}
	}

	sum, err := svc.Summary(ctx, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, sum.ItemCount)
	assert.EqualValues(t, cart.ItemCount, sum.ItemCount)
	assert.Equal(t, "14.75", sum.Total.StringFixed(2))

	// Prices are read live.
	require.NoError(t, db.Model(apples).Update("price", price("3.00")).Error)
	cart, err = svc.GetCart(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "15.98", cart.Total.StringFixed(2))

	require.NoError(t, svc.RemoveItem(ctx, milkLine.ID))
	assert.ErrorIs(t, svc.RemoveItem(ctx, milkLine.ID), apperr.ErrNotFound)

	require.NoError(t, svc.RemoveProduct(ctx, bob.ID, milk.ID))
	assert.ErrorIs(t, svc.RemoveProduct(ctx, bob.ID, milk.ID), apperr.ErrNotFound)

	n, err := svc.Clear(ctx, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	empty, err := svc.GetCart(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.True(t, empty.Total.IsZero())
}
