package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - CLUSTER
// =================================================================================

// Cluster crea un campo para el nombre del cluster.
func Cluster(v string) zap.Field { return zap.String("cluster", v) }

// Solution crea un campo para la solución (elasticsearch, redis).
func Solution(v string) zap.Field { return zap.String("solution", v) }

// Node crea un campo para el endpoint del nodo de datos (host:port).
func Node(v string) zap.Field { return zap.String("node", v) }

// Agent crea un campo para el endpoint del agente (host:port).
func Agent(v string) zap.Field { return zap.String("agent", v) }

// Health crea un campo para el estado de salud reportado.
func Health(v string) zap.Field { return zap.String("health", v) }

// State crea un campo para el estado de la máquina de rolling restart.
func State(v string) zap.Field { return zap.String("state", v) }

// Attempt crea un campo para el número de intento de un poll.
func Attempt(v int) zap.Field { return zap.Int("attempt", v) }

// AgentVersion crea un campo para la versión reportada por un agente.
func AgentVersion(v string) zap.Field { return zap.String("agent_version", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - OPERACIÓN
// =================================================================================

// RunID identifica una ejecución de operación.
func RunID(v string) zap.Field { return zap.String("run_id", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Status crea un campo para el status code HTTP devuelto por un agente.
func Status(v int) zap.Field { return zap.Int("status", v) }

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Count crea un campo para un conteo.
func Count(v int) zap.Field { return zap.Int("count", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

// String crea un campo string genérico.
func String(key, v string) zap.Field { return zap.String(key, v) }

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field { return zap.Int(key, v) }

// Any delega en zap.Any.
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
