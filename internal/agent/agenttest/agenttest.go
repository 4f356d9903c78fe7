// Package agenttest implementa un agente en proceso con chi: valida el token de cada
// comando, registra las llamadas y responde según su configuración. Lo usan los tests
// de los drivers y el subcomando agent-stub del CLI.
package agenttest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/token"
)

// Call es un comando recibido por el agente.
type Call struct {
	Path    string
	Payload map[string]any
	Files   map[string][]byte
}

// Agent es el estado del agente falso. Los campos exportados se pueden cambiar
// entre llamadas con los setters (protegidos por mutex).
type Agent struct {
	auth *token.Authenticator

	mu          sync.Mutex
	version     string
	statusCode  map[string]int
	config      map[string]any
	dropRestart bool
	calls       []Call
	onCommand   func(path string, payload map[string]any)
	nextVersion string
	failPorts   map[int]int
}

// New crea un Agent que valida tokens con auth y reporta version en GET /.
func New(auth *token.Authenticator, version string) *Agent {
	return &Agent{auth: auth, version: version, statusCode: map[string]int{}, failPorts: map[int]int{}}
}

// Handler arma el router chi del agente.
func (a *Agent) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", a.handleStatus)
	r.Post("/agent/command/sync", a.handleSync)
	r.Post("/agent/command/restart", a.handleAgentRestart)
	r.Post("/es/command/{cmd}", a.handleCommand)
	r.Post("/redis/command/{cmd}", a.handleCommand)
	return r
}

// Serve levanta el agente en un httptest.Server y devuelve su endpoint.
func (a *Agent) Serve() (*httptest.Server, cluster.AgentEndpoint) {
	srv := httptest.NewServer(a.Handler())
	return srv, EndpointOf(srv)
}

// EndpointOf traduce la URL de un httptest.Server a AgentEndpoint.
func EndpointOf(srv *httptest.Server) cluster.AgentEndpoint {
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return cluster.AgentEndpoint{Host: u.Hostname(), ControlPort: port}
}

// SetVersion cambia la versión reportada.
func (a *Agent) SetVersion(v string) { a.mu.Lock(); a.version = v; a.mu.Unlock() }

// SetVersionAfterRestart hace que el próximo restart del agente cambie la versión.
func (a *Agent) SetVersionAfterRestart(v string) { a.mu.Lock(); a.nextVersion = v; a.mu.Unlock() }

// SetStatus fuerza el status HTTP devuelto en path (0 vuelve al default).
func (a *Agent) SetStatus(path string, code int) {
	a.mu.Lock()
	a.statusCode[path] = code
	a.mu.Unlock()
}

// FailPort hace que los comandos dirigidos al data-store en port respondan code.
// Un agente puede atender varias instancias locales; el port del payload las distingue.
func (a *Agent) FailPort(port, code int) {
	a.mu.Lock()
	a.failPorts[port] = code
	a.mu.Unlock()
}

// SetConfig fija el documento devuelto por get_config.
func (a *Agent) SetConfig(cfg map[string]any) { a.mu.Lock(); a.config = cfg; a.mu.Unlock() }

// DropOnRestart hace que /agent/command/restart corte la conexión sin responder.
func (a *Agent) DropOnRestart(v bool) { a.mu.Lock(); a.dropRestart = v; a.mu.Unlock() }

// OnCommand registra un hook invocado en cada comando aceptado.
func (a *Agent) OnCommand(fn func(path string, payload map[string]any)) {
	a.mu.Lock()
	a.onCommand = fn
	a.mu.Unlock()
}

// Calls devuelve una copia de los comandos aceptados.
func (a *Agent) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallsTo filtra Calls por path.
func (a *Agent) CallsTo(path string) []Call {
	var out []Call
	for _, c := range a.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (a *Agent) forced(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusCode[path]
}

func (a *Agent) record(c Call) {
	a.mu.Lock()
	a.calls = append(a.calls, c)
	hook := a.onCommand
	a.mu.Unlock()
	if hook != nil {
		hook(c.Path, c.Payload)
	}
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	if code := a.forced("/"); code != 0 {
		w.WriteHeader(code)
		return
	}
	a.mu.Lock()
	v := a.version
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"version": v})
}

func (a *Agent) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "bad multipart", http.StatusBadRequest)
		return
	}
	if _, err := a.auth.Validate(r.FormValue("token")); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	files := map[string][]byte{}
	for name, hdrs := range r.MultipartForm.File {
		if len(hdrs) == 0 {
			continue
		}
		f, err := hdrs[0].Open()
		if err != nil {
			http.Error(w, "bad file", http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(f)
		f.Close()
		files[name] = b
	}
	if code := a.forced(r.URL.Path); code != 0 {
		w.WriteHeader(code)
		return
	}
	a.record(Call{Path: r.URL.Path, Files: files})
	w.WriteHeader(http.StatusOK)
}

func (a *Agent) handleAgentRestart(w http.ResponseWriter, r *http.Request) {
	payload, ok := a.authorize(w, r)
	if !ok {
		return
	}
	a.record(Call{Path: r.URL.Path, Payload: payload})

	a.mu.Lock()
	drop := a.dropRestart
	if a.nextVersion != "" {
		a.version, a.nextVersion = a.nextVersion, ""
	}
	a.mu.Unlock()

	if drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
	}
	if code := a.forced(r.URL.Path); code != 0 {
		w.WriteHeader(code)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *Agent) handleCommand(w http.ResponseWriter, r *http.Request) {
	payload, ok := a.authorize(w, r)
	if !ok {
		return
	}
	code := a.forced(r.URL.Path)
	if port, ok := payload["port"].(float64); ok {
		a.mu.Lock()
		if c := a.failPorts[int(port)]; c != 0 {
			code = c
		}
		a.mu.Unlock()
	}
	if code != 0 {
		a.record(Call{Path: r.URL.Path, Payload: payload})
		w.WriteHeader(code)
		return
	}
	a.record(Call{Path: r.URL.Path, Payload: payload})

	if chi.URLParam(r, "cmd") == "get_config" {
		a.mu.Lock()
		cfg := a.config
		a.mu.Unlock()
		if cfg == nil {
			cfg = map[string]any{}
		}
		writeJSON(w, http.StatusOK, cfg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *Agent) authorize(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return nil, false
	}
	tok, _ := payload["token"].(string)
	if _, err := a.auth.Validate(tok); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return nil, false
	}
	return payload, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
