package dataop

import "github.com/prometheus/client_golang/prometheus"

var (
	copiesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memfabric_dataop_copies_total",
		Help: "Data-copy calls by operator and result.",
	}, []string{"operator", "result"})
	bytesMovedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memfabric_dataop_bytes_total",
		Help: "Bytes moved by operator.",
	}, []string{"operator"})
	scratchInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memfabric_dataop_scratch_bytes_in_use",
		Help: "Bytes currently carved out of an operator's scratch pool.",
	}, []string{"operator"})
)

func init() {
	prometheus.MustRegister(copiesTotal, bytesMovedTotal, scratchInUse)
}
