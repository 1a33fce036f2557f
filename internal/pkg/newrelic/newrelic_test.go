package newrelic

import (
	"net/http"
	"testing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestDispatchDefaults(t *testing.T) {
	cfg := &newrelic.Config{}
	cfg.ErrorCollector.IgnoreStatusCodes = []int{http.StatusNotFound}

	opt := dispatchDefaults(models.AppConfig{Environment: "staging"})
	opt(cfg)
	opt(cfg)

	assert.Equal(t, map[string]string{"service": "dispatch", "environment": "staging"}, cfg.Labels)
	assert.Equal(t, []int{http.StatusNotFound, http.StatusConflict}, cfg.ErrorCollector.IgnoreStatusCodes)
}

func TestDispatchDefaults_NoEnvironment(t *testing.T) {
	cfg := &newrelic.Config{}
	dispatchDefaults(models.AppConfig{})(cfg)

	assert.Equal(t, map[string]string{"service": "dispatch"}, cfg.Labels)
	assert.Contains(t, cfg.ErrorCollector.IgnoreStatusCodes, http.StatusConflict)
}
