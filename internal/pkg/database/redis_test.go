package database

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v8"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	host, portStr, _ := strings.Cut(mr.Addr(), ":")
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := NewRedisClient(models.RedisConfig{Host: host, Port: port, PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestNewRedisClient(t *testing.T) {
	_, client := setupMiniRedis(t)

	assert.NotNil(t, client.GetClient())
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewRedisClient_ConnectionError(t *testing.T) {
	_, err := NewRedisClient(models.RedisConfig{Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}

func TestRedisClient_PingError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := &RedisClient{Client: db}

	mock.ExpectPing().SetErr(errors.New("LOADING"))

	err := client.Ping(context.Background())
	assert.EqualError(t, err, "LOADING")
	assert.NoError(t, mock.ExpectationsWereMet())
}
