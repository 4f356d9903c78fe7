package agent

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/clusterctl/internal/cluster"
)

// ConnectionError indica que el agente no respondió: dial rechazado, timeout,
// corte de conexión o respuesta no exitosa a un probe.
type ConnectionError struct {
	Endpoint cluster.AgentEndpoint
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("agent %s: %s: %v", e.Endpoint, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reporta si err (o alguno de sus wrapped) es un *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// ErrUnexpectedStatus se envuelve cuando el agente responde con status no 2xx.
var ErrUnexpectedStatus = errors.New("unexpected status")
