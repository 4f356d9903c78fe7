// Package cluster define el modelo de datos de un cluster de data-store administrado
// a través de agentes: nodos, endpoints de agente, estados de salud y de sincronización,
// documentos de configuración y el resultado agregado de operaciones fan-out.
//
// Los valores se construyen frescos por request; no hay identidad persistente entre llamadas.
package cluster

import "strings"

// HealthStatus es el estado de salud reportado por un cluster.
type HealthStatus string

const (
	HealthGreen   HealthStatus = "green"
	HealthYellow  HealthStatus = "yellow"
	HealthRed     HealthStatus = "red"
	HealthUnknown HealthStatus = "unknown"
)

// ParseHealth normaliza el status textual que devuelve el data-store.
// Cualquier valor no reconocido es HealthUnknown.
func ParseHealth(s string) HealthStatus {
	switch HealthStatus(strings.ToLower(strings.TrimSpace(s))) {
	case HealthGreen:
		return HealthGreen
	case HealthYellow:
		return HealthYellow
	case HealthRed:
		return HealthRed
	default:
		return HealthUnknown
	}
}

// Green reporta si el estado permite avanzar un rolling restart.
func (h HealthStatus) Green() bool { return h == HealthGreen }

func (h HealthStatus) String() string { return string(h) }

// SyncState clasifica un agente comparando su versión con la esperada.
type SyncState string

const (
	Synced      SyncState = "synced"
	Unsynced    SyncState = "unsynced"
	Unreachable SyncState = "unreachable"
)

func (s SyncState) String() string { return string(s) }
