package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (c *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *recordingChannel) Close() error {
	c.closed = true
	return nil
}

func TestRabbitPublisher_Publish(t *testing.T) {
	ch := &recordingChannel{}
	p := &RabbitPublisher{ch: ch, exchange: "smartcart.events"}

	err := p.Publish(context.Background(), OrderPlacedKey, OrderPlaced{
		OrderID:       7,
		UserID:        3,
		Total:         decimal.RequireFromString("7.77"),
		ItemCount:     1,
		PaymentMethod: "cash",
		PlacedAt:      time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "smartcart.events", ch.exchange)
	assert.Equal(t, OrderPlacedKey, ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(ch.msg.Body, &got))
	assert.Equal(t, "7.77", got["total"])
	assert.EqualValues(t, 7, got["order_id"])

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
