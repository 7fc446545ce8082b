package database

import (
	"fmt"
	"strings"

	"github.com/VictoriaMetrics/metrics"
)

// labelEscaper escapes a Prometheus label value. Only backslash, double quote
// and newline have escapes in the exposition format.
var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// queueMetrics counts persistence actions for one collection. Counters are
// shared by every DB opened on a directory with the same base name.
type queueMetrics struct {
	enqueued *metrics.Counter
	done     *metrics.Counter
	failed   *metrics.Counter
	dropped  *metrics.Counter
}

func newQueueMetrics(collection string) *queueMetrics {
	name := func(base string) string {
		return fmt.Sprintf(`minum_db_%s_total{collection="%s"}`, base, labelEscaper.Replace(collection))
	}
	return &queueMetrics{
		enqueued: metrics.GetOrCreateCounter(name("actions_enqueued")),
		done:     metrics.GetOrCreateCounter(name("actions_done")),
		failed:   metrics.GetOrCreateCounter(name("actions_failed")),
		dropped:  metrics.GetOrCreateCounter(name("actions_dropped")),
	}
}
