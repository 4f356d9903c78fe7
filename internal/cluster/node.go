package cluster

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultAgentPort es el puerto donde escucha el agente de control de cada host.
const DefaultAgentPort = 5000

var ErrInvalidEndpoint = errors.New("cluster: invalid node endpoint")

// Node identifica un miembro del cluster y el endpoint TCP de su API de datos.
// Es inmutable una vez construido.
type Node struct {
	Host      string
	Port      int
	Encrypted bool
}

// ParseNode acepta "https://h:9200", "http://h:9200", "h:6379" o "h".
// Sin puerto explícito se usa defaultPort.
func ParseNode(raw string, defaultPort int) (Node, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Node{}, fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}

	var n Node
	hostport := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Node{}, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, raw, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "https":
			n.Encrypted = true
		case "http", "redis":
		case "rediss":
			n.Encrypted = true
		default:
			return Node{}, fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidEndpoint, raw, u.Scheme)
		}
		hostport = u.Host
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// sin puerto
		host, portStr = strings.Trim(hostport, "[]"), ""
	}
	if host == "" {
		return Node{}, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}
	n.Host = host
	n.Port = defaultPort
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p <= 0 || p > 65535 {
			return Node{}, fmt.Errorf("%w: %q: bad port", ErrInvalidEndpoint, raw)
		}
		n.Port = p
	}
	if n.Port <= 0 {
		return Node{}, fmt.Errorf("%w: %q: missing port", ErrInvalidEndpoint, raw)
	}
	return n, nil
}

// Addr devuelve host:port del nodo.
func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// URL arma la URL base de la API del data-store respetando el cifrado del nodo.
func (n Node) URL() string {
	scheme := "http"
	if n.Encrypted {
		scheme = "https"
	}
	return scheme + "://" + n.Addr()
}

func (n Node) String() string { return n.Addr() }

// AgentEndpoint es donde se envían los comandos privilegiados. Siempre HTTP plano,
// independiente de si la API del data-store usa TLS.
type AgentEndpoint struct {
	Host        string
	ControlPort int
}

// Addr devuelve host:port del agente.
func (a AgentEndpoint) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.ControlPort))
}

// BaseURL devuelve la URL base HTTP del agente.
func (a AgentEndpoint) BaseURL() string { return "http://" + a.Addr() }

func (a AgentEndpoint) String() string { return a.Addr() }

// AgentFor deriva el endpoint del agente de un nodo: mismo host, puerto de control fijo.
func AgentFor(n Node, controlPort int) AgentEndpoint {
	if controlPort <= 0 {
		controlPort = DefaultAgentPort
	}
	return AgentEndpoint{Host: n.Host, ControlPort: controlPort}
}
