package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// MetricName is the single counter family every event is exported under.
const MetricName = "aero_webrtc_peer_events_total"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format, one
// series per event name.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s Negotiation and signaling event counters.\n", MetricName)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", MetricName)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", MetricName, labelEscaper.Replace(k), snap[k])
		}
	})
}
