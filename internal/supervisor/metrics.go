package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"DiceSentinel/internal/model"
)

var (
	metricRunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dicesentinel",
		Name:      "runs_started_total",
		Help:      "Number of account runs started.",
	})
	metricRunsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dicesentinel",
		Name:      "runs_rejected_total",
		Help:      "Start requests refused because the account already had a live run.",
	})
	metricRunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicesentinel",
		Name:      "runs_finished_total",
		Help:      "Number of account runs that reached a terminal state.",
	}, []string{"state"})
	metricRunsForced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dicesentinel",
		Name:      "runs_forced_total",
		Help:      "Runs terminated forcibly after the grace period.",
	})
	metricRunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicesentinel",
		Name:      "runs_active",
		Help:      "Runs currently in flight.",
	})
	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dicesentinel",
		Name:      "run_duration_seconds",
		Help:      "Wall time of account runs.",
		Buckets:   []float64{1, 5, 10, 20, 30, 60, 120},
	})
)

func recordStart() {
	metricRunsStarted.Inc()
	metricRunsActive.Inc()
}

func recordFinish(state model.RunState, seconds float64, forced bool) {
	metricRunsActive.Dec()
	metricRunsFinished.WithLabelValues(string(state)).Inc()
	metricRunDuration.Observe(seconds)
	if forced {
		metricRunsForced.Inc()
	}
}
