package metrics

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jcmdln/refstack-client/results"
)

const (
	MetricsNamespace = "refstack"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of executed tests",
	}, []string{
		"run_id",
		"result",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of test runs",
	}, []string{
		"run_id",
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of test runs",
	}, []string{
		"run_id",
	})

	unresolvedTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "unresolved_total",
		Help:      "Guideline entries with no matching test",
	})

	ambiguousTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "ambiguous_total",
		Help:      "Guideline entries matching multiple tests",
	})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "uploads_total",
		Help:      "Count of result uploads",
	}, []string{
		"result",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		slog.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordRun records the aggregate outcome of one test run.
func RecordRun(runID string, stats results.Stats, passed bool, duration time.Duration) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	runResults.WithLabelValues(runID, result).Set(1)
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
	testsTotal.WithLabelValues(runID, "pass").Add(float64(stats.Passed))
	testsTotal.WithLabelValues(runID, "fail").Add(float64(stats.Failed))
	testsTotal.WithLabelValues(runID, "skip").Add(float64(stats.Skipped))
}

// RecordNormalization records how much of the guideline could be matched.
func RecordNormalization(unresolved int, ambiguous int) {
	if Debug {
		slog.Debug("metric set",
			"m", "unresolved_total",
			"unresolved", unresolved,
			"ambiguous", ambiguous)
	}
	unresolvedTotal.Set(float64(unresolved))
	ambiguousTotal.Set(float64(ambiguous))
}

func RecordUpload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	uploadsTotal.WithLabelValues(result).Inc()
}
