package nats

import (
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	natsserver "github.com/nats-io/nats-server/v2/test"
)

var testNatsURL = "nats://127.0.0.1:8370"

func TestMain(m *testing.M) {
	opts := natsserver.DefaultTestOptions
	opts.Port = 8370
	server := natsserver.RunServer(&opts)
	code := m.Run()
	server.Shutdown()
	os.Exit(code)
}

func TestClient_PublishSubscribe(t *testing.T) {
	client, err := NewClient(testNatsURL)
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.IsConnected())
	assert.NotNil(t, client.GetConn())

	msgCh := make(chan *nats.Msg, 1)
	sub, err := client.Subscribe("trip.updated.test", func(msg *nats.Msg) {
		msgCh <- msg
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, client.Publish("trip.updated.test", []byte(`{"status":"claimed"}`)))
	require.NoError(t, client.Flush())

	select {
	case msg := <-msgCh:
		assert.JSONEq(t, `{"status":"claimed"}`, string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("nats://127.0.0.1:1")
	assert.Error(t, err)
}
