package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts executed commands by name
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "umbra",
		Name:      "commands_total",
		Help:      "Number of commands executed, by command name.",
	}, []string{"cmd"})

	// ProtocolErrorsTotal counts connections dropped over malformed frames
	ProtocolErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "umbra",
		Name:      "protocol_errors_total",
		Help:      "Number of malformed frames received.",
	})

	// ExpiredKeysTotal counts keys collected by the active expiration sweeper
	ExpiredKeysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "umbra",
		Name:      "expired_keys_total",
		Help:      "Number of keys removed by the expiration sweeper.",
	})

	// ConnectionsTotal counts accepted client connections
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "umbra",
		Name:      "connections_total",
		Help:      "Number of client connections accepted.",
	})

	// ConnectionsActive tracks currently open client connections
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "umbra",
		Name:      "connections_active",
		Help:      "Number of currently open client connections.",
	})
)

// Handler returns the Prometheus exposition handler for the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
