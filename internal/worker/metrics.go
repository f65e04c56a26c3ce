package worker

import "github.com/prometheus/client_golang/prometheus"

var retrievalRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "enclave_worker_envelope_retries_total",
		Help: "Total number of transient-empty retries while retrieving result envelopes.",
	},
)

func init() {
	prometheus.MustRegister(retrievalRetries)
}
