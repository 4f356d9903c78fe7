package driver

import "sort"

// Solution identifica el tipo de data-store.
type Solution string

const (
	Elasticsearch Solution = "elasticsearch"
	Redis         Solution = "redis"
)

// Executable es una operación que la UI/CLI puede ofrecer para una solución.
type Executable string

const (
	RollingRestart     Executable = "rolling-restart"
	FileTransfer       Executable = "file-transfer"
	ClusterHealthCheck Executable = "cluster-health-check"
	Ping               Executable = "ping"
)

// Entry describe una solución y sus operaciones, en orden de presentación.
type Entry struct {
	Solution    Solution     `json:"solution"`
	DefaultPort int          `json:"default_port"`
	Executables []Executable `json:"executables"`
}

var catalog = map[Solution]Entry{
	Elasticsearch: {
		Solution:    Elasticsearch,
		DefaultPort: 9200,
		Executables: []Executable{RollingRestart, FileTransfer, ClusterHealthCheck},
	},
	Redis: {
		Solution:    Redis,
		DefaultPort: 6379,
		Executables: []Executable{RollingRestart, FileTransfer, Ping},
	},
}

// Catalog devuelve las soluciones soportadas ordenadas por nombre.
func Catalog() []Entry {
	out := make([]Entry, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Solution < out[j].Solution })
	return out
}

// Lookup busca una solución; acepta alias comunes ("es", "elastic").
func Lookup(name string) (Entry, bool) {
	switch name {
	case "es", "elastic":
		name = string(Elasticsearch)
	}
	e, ok := catalog[Solution(name)]
	return e, ok
}

// Supports reporta si la solución ofrece la operación.
func (e Entry) Supports(x Executable) bool {
	for _, have := range e.Executables {
		if have == x {
			return true
		}
	}
	return false
}
