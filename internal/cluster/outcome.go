package cluster

import (
	"fmt"
	"strings"
	"sync"
)

// Failure es el error de un nodo dentro de una operación fan-out.
type Failure struct {
	Node    string `json:"node"`
	Message string `json:"message"`
}

// Outcome es el resultado de una operación sobre un conjunto de nodos.
// Success es true sólo si ningún nodo falló.
type Outcome struct {
	Success  bool      `json:"success"`
	Failures []Failure `json:"failures,omitempty"`
}

// Succeeded retorna un Outcome exitoso.
func Succeeded() Outcome { return Outcome{Success: true} }

// Failed retorna un Outcome con un único fallo.
func Failed(node, format string, args ...any) Outcome {
	return Outcome{Failures: []Failure{{Node: node, Message: fmt.Sprintf(format, args...)}}}
}

func (o Outcome) Error() string {
	if o.Success {
		return ""
	}
	parts := make([]string, len(o.Failures))
	for i, f := range o.Failures {
		parts[i] = f.Node + ": " + f.Message
	}
	return strings.Join(parts, "; ")
}

// Collector agrega fallos por nodo desde goroutines concurrentes.
// El orden de los fallos sigue el índice del nodo, no el orden de llegada.
type Collector struct {
	mu       sync.Mutex
	failures map[int]Failure
	size     int
}

// NewCollector crea un Collector para n nodos.
func NewCollector(n int) *Collector {
	return &Collector{failures: make(map[int]Failure), size: n}
}

// Fail registra el fallo del nodo i.
func (c *Collector) Fail(i int, node, format string, args ...any) {
	c.mu.Lock()
	c.failures[i] = Failure{Node: node, Message: fmt.Sprintf(format, args...)}
	c.mu.Unlock()
}

// Outcome construye el resultado final.
func (c *Collector) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Outcome{Success: len(c.failures) == 0}
	for i := 0; i < c.size; i++ {
		if f, ok := c.failures[i]; ok {
			out.Failures = append(out.Failures, f)
		}
	}
	return out
}
