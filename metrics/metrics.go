package metrics

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	MetricsNamespace = "testrail_sync"
)

var (
	Debug                bool = false
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	selectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "selections_total",
		Help:      "Count of selection decisions",
	}, []string{
		"decision",
	})

	orphanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "orphaned_ids_total",
		Help:      "Case ids tagged locally that are absent from the run",
	})

	remoteCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "remote_calls_total",
		Help:      "Count of remote call attempts",
	}, []string{
		"op",
		"result",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retries_total",
		Help:      "Count of remote call retries",
	}, []string{
		"op",
		"kind",
	})

	flushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "flushes_total",
		Help:      "Count of result batches posted",
	})

	resultsPostedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "results_posted_total",
		Help:      "Count of result records posted",
	})

	resultsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "results_dropped_total",
		Help:      "Count of result records that could not be posted",
	}, []string{
		"reason",
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
		log.Debug("metric inc",
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

func RecordSelection(execute bool, orphaned int) {
	decision := "skip"
	if execute {
		decision = "execute"
	}
	selectionsTotal.WithLabelValues(decision).Inc()
	if orphaned > 0 {
		orphanedTotal.Add(float64(orphaned))
	}
}

func RecordRemoteCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	remoteCallsTotal.WithLabelValues(op, result).Inc()
}

func RecordRetry(op string, kind string) {
	if Debug {
		log.Debug("metric inc",
			"m", "retries_total",
			"op", op,
			"kind", kind)
	}
	retriesTotal.WithLabelValues(op, kind).Inc()
}

func RecordFlush(posted int) {
	flushesTotal.Inc()
	resultsPostedTotal.Add(float64(posted))
}

func RecordDropped(reason string) {
	resultsDroppedTotal.WithLabelValues(reason).Inc()
}

// Push sends everything in the default registry to a pushgateway.
func Push(ctx context.Context, url string, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
