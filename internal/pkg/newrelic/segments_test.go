package newrelic

import (
	"context"
	"errors"
	"testing"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestInitNewRelic_Disabled(t *testing.T) {
	cfg := &models.Config{NewRelic: models.NewRelicConfig{Enabled: false}}
	assert.Nil(t, InitNewRelic(cfg))

	cfg.NewRelic.Enabled = true
	assert.Nil(t, InitNewRelic(cfg), "missing license key keeps the agent off")
}

func TestSegments_WithoutTransaction(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	assert.Nil(t, FromContext(ctx))
	assert.ErrorIs(t, WithSegment(ctx, "noop", func() error { return boom }), boom)

	v, err := WithSegmentAndReturn(ctx, "noop", func() (int, error) { return 7, nil })
	assert.NoError(t, err)
	assert.Equal(t, 7, v)

	end := StartDatastoreSegment(ctx, "trips", "SELECT")
	assert.NotPanics(t, end)

	called := false
	err = WithExternalSegment(ctx, "maps", "geocode", "https://maps.googleapis.com", func() error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}
