package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas de operaciones sobre clusters. Viven en un paquete aparte para que
// orquestador, drivers y fleet las compartan sin ciclos de import.

var (
	RestartsIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clusterctl_node_restarts_total",
		Help: "Restarts de nodo enviados a agentes, por solución y resultado",
	}, []string{"solution", "result"})

	HealthPolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clusterctl_health_polls_total",
		Help: "Consultas de salud del cluster por estado observado",
	}, []string{"solution", "status"})

	RollingRestartDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clusterctl_rolling_restart_seconds",
		Help:    "Duración de un rolling restart completo",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"solution", "state"})

	FanoutFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clusterctl_fanout_failures_total",
		Help: "Nodos que fallaron en operaciones fan-out",
	}, []string{"op"})

	AgentSyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clusterctl_agent_syncs_total",
		Help: "Uploads del payload del agente por resultado",
	}, []string{"result"})

	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clusterctl_operations_total",
		Help: "Operaciones ejecutadas por solución, operación y resultado",
	}, []string{"solution", "op", "result"})
)

// Register registra las métricas en reg (o en el default si es nil).
// Registrar dos veces no es error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{RestartsIssued, HealthPolls, RollingRestartDuration, FanoutFailures, AgentSyncs, Operations} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
