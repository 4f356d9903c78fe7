// Package audit registra una entrada por operación ejecutada sobre un cluster.
// La persistencia es externa: Writer es el punto de extensión y LogWriter la
// implementación por defecto sobre zap.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
)

// Record es una operación auditada.
type Record struct {
	Executor  string
	User      string
	Cluster   string
	Solution  string
	Op        string
	RunID     string
	Timestamp time.Time
	Success   bool
	Failures  []cluster.Failure
	Duration  time.Duration
}

// Writer persiste registros de auditoría.
type Writer interface {
	Write(ctx context.Context, r Record) error
}

// LogWriter escribe cada Record como una línea estructurada.
type LogWriter struct {
	log *zap.Logger
}

func NewLogWriter(l *zap.Logger) *LogWriter {
	if l == nil {
		l = logger.Named("audit")
	}
	return &LogWriter{log: l}
}

func (w *LogWriter) Write(ctx context.Context, r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	fields := []zap.Field{
		zap.String("executor", r.Executor),
		zap.String("user", r.User),
		logger.Cluster(r.Cluster),
		logger.Solution(r.Solution),
		logger.Op(r.Op),
		logger.RunID(r.RunID),
		zap.Time("ts", r.Timestamp),
		zap.Bool("success", r.Success),
		logger.Duration(r.Duration),
	}
	for _, f := range r.Failures {
		fields = append(fields, zap.String("failure."+f.Node, f.Message))
	}
	w.log.Info("audit", fields...)
	return nil
}

// Memory guarda los registros en memoria. Útil en tests.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Write(_ context.Context, r Record) error {
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
	return nil
}

// Records devuelve una copia de lo escrito.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
