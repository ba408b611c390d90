package stat

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t testing.TB, s *Stat) string {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, w.Code)
	return w.Body.String()
}

func TestPublishResult(t *testing.T) {
	t.Parallel()
	s := New()
	s.PublishResult(true)
	s.PublishResult(false)
	s.PublishResult(false)
	body := scrape(t, s)
	assert.Contains(t, body, `flowtele_publish_total{result="ok"} 1`)
	assert.Contains(t, body, `flowtele_publish_total{result="fail"} 2`)
}

func TestHandler(t *testing.T) {
	t.Parallel()
	s := New()
	s.Pulses.Add(42)
	s.QueueDepth.Set(3)
	s.CheckpointWrites.WithLabelValues("flow").Inc()
	body := scrape(t, s)
	assert.Contains(t, body, "flowtele_pulses_total 42")
	assert.Contains(t, body, "flowtele_queue_depth 3")
	assert.Contains(t, body, `flowtele_checkpoint_writes_total{domain="flow"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
