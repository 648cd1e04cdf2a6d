package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.RecordScheduled()
	c.RecordScheduled()
	c.RecordFired(false)
	c.RecordFired(true)
	c.RecordCancelled(3)
	c.RecordOracleCall("lab-result", "ok", 20*time.Millisecond, 0.01)
	c.RecordOracleCall("lab-result", "timeout", time.Second, 0)
	c.RecordJournalWrite(nil)
	c.RecordJournalWrite(errors.New("disk full"))
	c.RecordStaleDrop()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsScheduled))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsFired))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callbackErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.eventsCancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.oracleRequests.WithLabelValues("lab-result", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.journalWriteErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.journalWrites))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.staleDrops))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordTick(time.Millisecond, time.Unix(1000, 0), 10)
	c.RecordWSConnection(1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "rhenal_time_scale 10"))
	assert.True(t, strings.Contains(body, "rhenal_ws_connections 1"))
}

func TestGetIsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
