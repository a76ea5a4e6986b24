package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/warpdl/warppkg/pkg/distlib"
)

type fakeQueue struct{ running, waiting int }

func (q fakeQueue) ActiveCount() int  { return q.running }
func (q fakeQueue) WaitingCount() int { return q.waiting }

func TestPrometheusRecorder_Counts(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.TaskStarted(distlib.PriorityForeground)
	pr.TaskStarted(distlib.PriorityBackground)
	if got := testutil.ToFloat64(pr.activeTasks); got != 2 {
		t.Fatalf("active tasks = %v, want 2", got)
	}
	pr.TaskFinished(distlib.PriorityForeground, distlib.ResultOK, 150*time.Millisecond)
	pr.InstallFinished(distlib.ResultOK)

	if got := testutil.ToFloat64(pr.activeTasks); got != 1 {
		t.Fatalf("active tasks = %v, want 1", got)
	}
	fg := distlib.PriorityForeground.String()
	if got := testutil.ToFloat64(pr.taskResults.WithLabelValues(fg, "ok")); got != 1 {
		t.Fatalf("task results = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pr.installs.WithLabelValues("ok")); got != 1 {
		t.Fatalf("installs = %v, want 1", got)
	}
}

func TestPrometheusRecorder_NilSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.TaskStarted(distlib.PriorityForeground)
	pr.TaskFinished(distlib.PriorityForeground, distlib.ResultError, time.Second)
	pr.InstallFinished(distlib.ResultError)
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.RegisterQueue(fakeQueue{running: 2, waiting: 5})
	pr.InstallFinished(distlib.ResultCancel)

	rec := httptest.NewRecorder()
	pr.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`warppkg_installs_total{result="cancel"} 1`,
		"warppkg_dispatcher_waiting 5",
		"warppkg_dispatcher_running 2",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape output missing %q:\n%s", want, body)
		}
	}
}
