package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewProducer(t *testing.T) {
	tests := []struct {
		name    string
		client  *redis.Client
		stream  string
		wantErr string
	}{
		{name: "valid configuration", client: redis.NewClient(&redis.Options{}), stream: "bids"},
		{name: "nil client", stream: "bids", wantErr: "redis client cannot be nil"},
		{name: "empty stream", client: redis.NewClient(&redis.Options{}), wantErr: "stream cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			producer, err := NewProducer[TestMessage](tt.client, tt.stream)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				assert.Nil(t, producer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, producer)
			}
			if tt.client != nil {
				tt.client.Close()
			}
		})
	}
}

func TestProducer_Publish(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, _, cleanup := setupMiniredis(t)
	defer cleanup()

	producer, err := NewProducer[TestMessage](client, "bids", WithProducerLogger[TestMessage](discardLogger))
	require.NoError(t, err)
	producer.Start()
	producer.Start()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, producer.Publish(TestMessage{ID: "bid", Amount: i * 100}))
	}

	ctx := context.Background()
	require.Eventually(t, func() bool {
		n, err := client.XLen(ctx, "bids").Result()
		return err == nil && n == 3
	}, 2*time.Second, 10*time.Millisecond)
	producer.Close()

	entries, err := client.XRange(ctx, "bids", "-", "+").Result()
	require.NoError(t, err)
	for i, entry := range entries {
		decoded, err := DecodeMessage[TestMessage](entry.Values)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1)*100, decoded.Amount)
	}
}

func TestProducer_PublishWhenClosed(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, _, cleanup := setupTest(t)
	defer cleanup()

	producer, err := NewProducer[TestMessage](client, "bids")
	require.NoError(t, err)
	assert.ErrorIs(t, producer.Publish(TestMessage{}), ErrProducerClosed)

	producer.Start()
	producer.Close()
	producer.Close()
	assert.ErrorIs(t, producer.Publish(TestMessage{}), ErrProducerClosed)
}

func TestProducer_EncodeError(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, _, cleanup := setupTest(t)
	defer cleanup()

	producer, err := NewProducer[TestMessage](client, "bids",
		WithProducerEncoder[TestMessage](func(TestMessage) (map[string]any, error) {
			return nil, errors.New("boom")
		}))
	require.NoError(t, err)
	producer.Start()
	defer producer.Close()

	err = producer.Publish(TestMessage{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestProducer_AddErrorDoesNotStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, server, cleanup := setupMiniredis(t)
	defer cleanup()

	producer, err := NewProducer[TestMessage](client, "bids", WithProducerLogger[TestMessage](discardLogger))
	require.NoError(t, err)
	producer.Start()
	defer producer.Close()

	server.SetError("LOADING")
	require.NoError(t, producer.Publish(TestMessage{Amount: 1}))
	time.Sleep(50 * time.Millisecond)
	server.SetError("")

	require.NoError(t, producer.Publish(TestMessage{Amount: 2}))
	require.Eventually(t, func() bool {
		n, _ := client.XLen(context.Background(), "bids").Result()
		return n >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
