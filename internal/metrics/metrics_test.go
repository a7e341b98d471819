package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMetricsDelete(t *testing.T) {
	m := ForSession("metrics-test")
	m.PacketsReceived.Add(3)
	m.KeepAliveSent("peer").Inc()
	SinkPacketsTotal.WithLabelValues("metrics-test", "discard").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.PacketsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(KeepAliveSentTotal.WithLabelValues("metrics-test", "peer")))

	other := ForSession("metrics-other")
	other.PacketsReceived.Inc()

	m.Delete()
	assert.Equal(t, 0.0, testutil.ToFloat64(PacketsReceivedTotal.WithLabelValues("metrics-test")))
	assert.Equal(t, 0.0, testutil.ToFloat64(SinkPacketsTotal.WithLabelValues("metrics-test", "discard")))
	assert.Equal(t, 1.0, testutil.ToFloat64(other.PacketsReceived))
	other.Delete()
}

func TestServerServesMetrics(t *testing.T) {
	ForSession("metrics-http").PacketsReceived.Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `udpin_packets_received_total{session="metrics-http"} 1`))
}

func TestServerBindError(t *testing.T) {
	s := NewServer("127.0.0.1:99999", "/metrics")
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
