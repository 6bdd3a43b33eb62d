package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

const (
	counterFamily = "vibesync_signaling_events_total"
	gaugeFamily   = "vibesync_signaling_gauge"
)

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// PrometheusHandler serves m in the Prometheus text exposition format. Every
// counter is a sample of one family keyed by an `event` label, every gauge a
// sample of another keyed by `name`.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		counters, gauges := m.Snapshot()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		writeFamily(w, counterFamily, "counter", "Signaling relay event counters.", "event", counters)
		writeFamily(w, gaugeFamily, "gauge", "Signaling relay point-in-time values.", "name", gauges)
	})
}

func writeFamily[V uint64 | int64](w io.Writer, family, kind, help, label string, samples map[string]V) {
	names := make([]string, 0, len(samples))
	for k := range samples {
		names = append(names, k)
	}
	sort.Strings(names)

	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", family, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", family, kind)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", family, label, labelEscaper.Replace(name), samples[name])
	}
}
