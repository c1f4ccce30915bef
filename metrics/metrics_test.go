package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anihive/anihive/identity"
	"github.com/anihive/anihive/middleware/proxy"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsIdentityCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	observe := c.IdentityObserver()
	observe("sign_in", 20*time.Millisecond, nil)
	observe("sign_in", 20*time.Millisecond, &identity.Error{Status: 400, Message: "Invalid login credentials"})
	observe("resend", time.Millisecond, &identity.Error{Status: 429, Message: "slow down"})
	observe("refresh", time.Millisecond, errors.New("dial tcp"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.identityCalls.WithLabelValues("sign_in", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.identityCalls.WithLabelValues("sign_in", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.identityCalls.WithLabelValues("resend", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.identityCalls.WithLabelValues("refresh", "error")))
}

func TestCollectorRecordsDecisionsAndProfiles(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDecision(nil, proxy.NavigationMatch{}, proxy.Decision{Action: proxy.ActionRedirect, Reason: proxy.ReasonAuthenticated})
	c.RecordDecision(nil, proxy.NavigationMatch{}, proxy.Decision{Action: proxy.ActionContinue, Reason: proxy.ReasonPass})
	c.RecordProfileFetch("stale")
	c.RecordProfileFetch("stale")
	c.RecordRateLimited()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.proxyDecisions.WithLabelValues("redirect", "authenticated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.proxyDecisions.WithLabelValues("continue", "pass")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.profileFetches.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rateLimited))
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRateLimited()

	app := fiber.New()
	app.Get("/metrics", Handler(reg))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "anihive_rate_limited_total 1")
}
