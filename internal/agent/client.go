// Package agent es el transporte HTTP hacia el agente de control de cada host.
//
// Todas las llamadas llevan timeout explícito y los errores de red se convierten en
// *ConnectionError o en valores de resultado; nunca se propagan crudos.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	DefaultStatusTimeout  = 3 * time.Second
	DefaultCommandTimeout = 60 * time.Second

	// maxBody limita lo que se lee de cualquier respuesta del agente.
	maxBody = 4 << 20
)

// Paths del agente.
const (
	PathStatus       = "/"
	PathSync         = "/agent/command/sync"
	PathAgentRestart = "/agent/command/restart"
)

// Command es un comando específico de solución despachado vía Dispatch.
type Command string

const (
	ESRestart       Command = "/es/command/restart"
	ESConfiguration Command = "/es/command/configuration"
	RedisRestart    Command = "/redis/command/restart"
	RedisGetConfig  Command = "/redis/command/get_config"
	RedisSetConfig  Command = "/redis/command/set_config"
)

// StatusReply es la respuesta de GET / del agente.
type StatusReply struct {
	Version string `json:"version"`
}

// Response es la respuesta cruda de un Dispatch.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reporta si el status es 2xx.
func (r *Response) OK() bool { return r != nil && r.StatusCode >= 200 && r.StatusCode < 300 }

// DecodeJSON decodifica el body en v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("agent: decode response: %w", err)
	}
	return nil
}

// RestartResult es el resultado observado de un restart del propio agente.
type RestartResult int

const (
	// RestartAccepted: el agente respondió 2xx.
	RestartAccepted RestartResult = iota
	// RestartRejected: el agente respondió con status no 2xx.
	RestartRejected
	// RestartUnknown: la conexión se cortó después de enviar el request; el agente
	// probablemente se está relanzando. Verificar con Status.
	RestartUnknown
)

func (r RestartResult) String() string {
	switch r {
	case RestartAccepted:
		return "accepted"
	case RestartRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Options configura el Client.
type Options struct {
	StatusTimeout  time.Duration
	CommandTimeout time.Duration
	HTTP           *http.Client
	Logger         *zap.Logger
}

// Client habla con agentes por HTTP. Seguro para uso concurrente.
type Client struct {
	http           *http.Client
	statusTimeout  time.Duration
	commandTimeout time.Duration
	log            *zap.Logger
}

// NewClient crea un Client con los defaults aplicados.
func NewClient(opts Options) *Client {
	c := &Client{
		http:           opts.HTTP,
		statusTimeout:  opts.StatusTimeout,
		commandTimeout: opts.CommandTimeout,
		log:            opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.statusTimeout <= 0 {
		c.statusTimeout = DefaultStatusTimeout
	}
	if c.commandTimeout <= 0 {
		c.commandTimeout = DefaultCommandTimeout
	}
	if c.log == nil {
		c.log = logger.Named("agent")
	}
	return c
}

// Status consulta GET / del agente. timeout <= 0 usa el default del Client.
func (c *Client) Status(ctx context.Context, ep cluster.AgentEndpoint, timeout time.Duration) (StatusReply, error) {
	if timeout <= 0 {
		timeout = c.statusTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL()+PathStatus, nil)
	if err != nil {
		return StatusReply{}, &ConnectionError{Endpoint: ep, Op: "status", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return StatusReply{}, &ConnectionError{Endpoint: ep, Op: "status", Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	if resp.StatusCode/100 != 2 {
		return StatusReply{}, &ConnectionError{Endpoint: ep, Op: "status",
			Err: fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)}
	}
	var out StatusReply
	if err := json.Unmarshal(body, &out); err != nil {
		return StatusReply{}, &ConnectionError{Endpoint: ep, Op: "status", Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

// Upload envía el payload del agente (archivos numerados + token) como multipart.
// Retorna false ante cualquier error; nunca propaga.
func (c *Client) Upload(ctx context.Context, ep cluster.AgentEndpoint, files map[string][]byte, tok string) bool {
	log := c.log.With(logger.Agent(ep.Addr()), logger.Op("sync"))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := mw.CreateFormFile(name, name)
		if err != nil {
			log.Error("build multipart", logger.Err(err))
			return false
		}
		if _, err := fw.Write(files[name]); err != nil {
			log.Error("build multipart", logger.Err(err))
			return false
		}
	}
	if err := mw.WriteField("token", tok); err != nil {
		log.Error("build multipart", logger.Err(err))
		return false
	}
	if err := mw.Close(); err != nil {
		log.Error("build multipart", logger.Err(err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL()+PathSync, &buf)
	if err != nil {
		log.Error("build request", logger.Err(err))
		return false
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("agent sync failed", logger.Err(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	if resp.StatusCode/100 != 2 {
		log.Warn("agent sync rejected", logger.Status(resp.StatusCode))
		return false
	}
	log.Info("agent sync completed", logger.Count(len(files)))
	return true
}

// Restart pide al agente que se relance. Un corte de conexión después de escribir el
// request no es un fallo: se reporta RestartUnknown y el caller debe verificar con Status.
func (c *Client) Restart(ctx context.Context, ep cluster.AgentEndpoint, tok string) (RestartResult, error) {
	resp, err := c.postJSON(ctx, ep, PathAgentRestart, map[string]any{"token": tok})
	if err != nil {
		if isDisconnect(err) {
			c.log.Info("agent dropped connection during restart",
				logger.Agent(ep.Addr()), logger.Err(err))
			return RestartUnknown, nil
		}
		return RestartRejected, &ConnectionError{Endpoint: ep, Op: "restart", Err: err}
	}
	if !resp.OK() {
		c.log.Warn("agent restart rejected", logger.Agent(ep.Addr()), logger.Status(resp.StatusCode))
		return RestartRejected, nil
	}
	return RestartAccepted, nil
}

// Dispatch envía un comando de solución. El payload siempre incluye token y port.
func (c *Client) Dispatch(ctx context.Context, ep cluster.AgentEndpoint, cmd Command, port int, payload map[string]any, tok string) (*Response, error) {
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["token"] = tok
	body["port"] = port

	resp, err := c.postJSON(ctx, ep, string(cmd), body)
	if err != nil {
		return nil, &ConnectionError{Endpoint: ep, Op: string(cmd), Err: err}
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, ep cluster.AgentEndpoint, path string, body any) (*Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL()+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	rb, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: rb}, nil
}

// isDisconnect distingue un corte a mitad de respuesta (EOF, reset) de un dial
// rechazado o un timeout, que sí son errores de conexión.
func isDisconnect(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false
	}
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// FileName es el nombre del campo multipart para el i-ésimo archivo.
func FileName(i int) string { return strconv.Itoa(i) }
