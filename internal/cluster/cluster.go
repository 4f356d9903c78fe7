package cluster

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoNodes = errors.New("cluster: no nodes")

// Credentials son las credenciales del data-store ("principal:secret").
type Credentials struct {
	Principal string
	Secret    string
}

// ParseCredentials parsea "principal:secret". Un valor sin ':' es un secret sin principal
// (p.ej. requirepass de redis). String vacío retorna nil.
func ParseCredentials(raw string) *Credentials {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	principal, secret, ok := strings.Cut(raw, ":")
	if !ok {
		return &Credentials{Secret: raw}
	}
	return &Credentials{Principal: principal, Secret: secret}
}

// String nunca expone el secret.
func (c *Credentials) String() string {
	if c == nil {
		return ""
	}
	return c.Principal + ":***"
}

// Cluster es la identidad de un cluster para una operación.
// El orden de Nodes fija el orden del rolling restart.
type Cluster struct {
	Name        string
	Nodes       []Node
	Credentials *Credentials
	AgentPort   int
}

// New construye un Cluster a partir de endpoints en texto.
func New(name string, endpoints []string, defaultPort int, creds *Credentials) (*Cluster, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoNodes
	}
	nodes := make([]Node, 0, len(endpoints))
	for _, raw := range endpoints {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		n, err := ParseNode(raw, defaultPort)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}
	return &Cluster{Name: name, Nodes: nodes, Credentials: creds, AgentPort: DefaultAgentPort}, nil
}

// Agents deriva un AgentEndpoint por nodo, en el mismo orden.
func (c *Cluster) Agents() []AgentEndpoint {
	out := make([]AgentEndpoint, len(c.Nodes))
	for i, n := range c.Nodes {
		out[i] = AgentFor(n, c.AgentPort)
	}
	return out
}

func (c *Cluster) String() string {
	addrs := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		addrs[i] = n.Addr()
	}
	return fmt.Sprintf("%s[%s]", c.Name, strings.Join(addrs, ","))
}
