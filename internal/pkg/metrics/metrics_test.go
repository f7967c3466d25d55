package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestJobsFinished(t *testing.T) {
	before := testutil.ToFloat64(JobsFinished.WithLabelValues("local", "completed"))
	JobsFinished.WithLabelValues("local", "completed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(JobsFinished.WithLabelValues("local", "completed")))
}

func TestHandler(t *testing.T) {
	EventsPublished.WithLabelValues("training_progress").Inc()
	Since(JobDuration.WithLabelValues("remote"), time.Now().Add(-time.Minute))

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anno_train_events_published_total")
	assert.Contains(t, w.Body.String(), "anno_train_jobs_duration_seconds")
}
