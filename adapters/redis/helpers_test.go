package redis

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

// setupMiniredis returns a client on a fresh in-memory server. The cleanup
// stops both so that goleak sees no server goroutines.
func setupMiniredis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	return client, server, func() {
		client.Close()
		server.Close()
	}
}

type TestMessage struct {
	ID     string    `msgpack:"id"`
	Amount int64     `msgpack:"amount"`
	At     time.Time `msgpack:"at"`
}
