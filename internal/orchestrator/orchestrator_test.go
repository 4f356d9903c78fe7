package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/clusterctl/internal/cluster"
)

// scriptedTarget devuelve salud desde un guion; el último valor se repite.
// Registra la secuencia de eventos para verificar el orden health/restart.
type scriptedTarget struct {
	mu       sync.Mutex
	nodes    []string
	script   []cluster.HealthStatus
	pos      int
	events   []string
	restarts []int
	failOn   map[int]error
}

func (s *scriptedTarget) Nodes() []string { return s.nodes }

func (s *scriptedTarget) Health(ctx context.Context) cluster.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.script[len(s.script)-1]
	if s.pos < len(s.script) {
		h = s.script[s.pos]
	}
	s.pos++
	s.events = append(s.events, "health:"+h.String())
	return h
}

func (s *scriptedTarget) RestartNode(ctx context.Context, i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts = append(s.restarts, i)
	s.events = append(s.events, fmt.Sprintf("restart:%d", i))
	return s.failOn[i]
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

const (
	G = cluster.HealthGreen
	Y = cluster.HealthYellow
	R = cluster.HealthRed
)

func testPolicy() Policy {
	return Policy{HealthInterval: 10 * time.Second, HealthAttempts: 5, SettleDelay: time.Second,
		RecoverInterval: 10 * time.Second, RecoverAttempts: 5}
}

func newOrch(rec *sleepRecorder) *Orchestrator {
	return New("test", WithSleeper(rec.sleep), WithLogger(zap.NewNop()))
}

func TestRun_ThreeNodes_PausesOnYellow(t *testing.T) {
	target := &scriptedTarget{
		nodes: []string{"n1", "n2", "n3"},
		// pre n1, post n1, pre n2, post n2 (yellow x2 -> green), pre n3, post n3
		script: []cluster.HealthStatus{G, G, G, Y, Y, G, G, G},
	}
	rec := &sleepRecorder{}
	res := newOrch(rec).Run(context.Background(), target, testPolicy())

	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, []int{0, 1, 2}, target.restarts)
	assert.Equal(t, []string{"n1", "n2", "n3"}, res.Restarted)
	// dos pausas de recuperación durante el amarillo
	pauses := 0
	for _, w := range rec.waits {
		if w == 10*time.Second {
			pauses++
		}
	}
	assert.Equal(t, 2, pauses)
}

func TestRun_NeverRestartsNextBeforeGreenAfterPrevious(t *testing.T) {
	scripts := [][]cluster.HealthStatus{
		{G},
		{G, R, Y, G, Y, G, G, G, G},
		{Y, G, G, R, R, R, G, G, Y, G, G},
		{G, Y, G, Y, G, Y, G, Y, G},
	}
	for n := 2; n <= 4; n++ {
		for si, script := range scripts {
			nodes := make([]string, n)
			for i := range nodes {
				nodes[i] = fmt.Sprintf("n%d", i)
			}
			target := &scriptedTarget{nodes: nodes, script: script}
			res := newOrch(&sleepRecorder{}).Run(context.Background(), target, testPolicy())
			require.True(t, res.OK(), "n=%d script=%d: %v", n, si, res.Err)

			// entre cada restart:i y restart:i+1 debe haber al menos un health:green
			lastRestart := -1
			greenSince := true
			for _, ev := range target.events {
				switch {
				case ev == "health:green":
					greenSince = true
				case len(ev) > 8 && ev[:8] == "restart:":
					if lastRestart >= 0 {
						require.True(t, greenSince, "n=%d script=%d: restart without green: %v", n, si, target.events)
					}
					lastRestart++
					greenSince = false
				}
			}
			assert.Equal(t, n-1, lastRestart)
		}
	}
}

func TestRun_RestartErrorStillWaitsForRecovery(t *testing.T) {
	target := &scriptedTarget{
		nodes:  []string{"n1", "n2"},
		script: []cluster.HealthStatus{G, Y, G, G, G},
		failOn: map[int]error{0: errors.New("agent returned 500")},
	}
	res := newOrch(&sleepRecorder{}).Run(context.Background(), target, testPolicy())
	require.True(t, res.OK())
	assert.Equal(t, []int{0, 1}, target.restarts)
	assert.Equal(t, []string{"health:green", "restart:0", "health:yellow", "health:green", "health:green", "restart:1", "health:green"}, target.events)
}

func TestRun_RecoveryExhaustedFails(t *testing.T) {
	target := &scriptedTarget{
		nodes:  []string{"n1", "n2", "n3"},
		script: []cluster.HealthStatus{G, R},
	}
	p := KeyValuePolicy()
	res := newOrch(&sleepRecorder{}).Run(context.Background(), target, p)

	require.False(t, res.OK())
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrNotRecovered)
	assert.Equal(t, "n1", res.FailedNode)
	assert.Equal(t, []int{0}, target.restarts)
	// 1 chequeo previo + 5 de recuperación
	assert.Len(t, target.events, 1+1+p.RecoverAttempts)

	out := res.Outcome()
	assert.False(t, out.Success)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "n1", out.Failures[0].Node)
}

func TestRun_NeverGreenNeverRestarts(t *testing.T) {
	target := &scriptedTarget{nodes: []string{"n1"}, script: []cluster.HealthStatus{Y}}
	res := newOrch(&sleepRecorder{}).Run(context.Background(), target, testPolicy())
	assert.ErrorIs(t, res.Err, ErrNotHealthy)
	assert.Empty(t, target.restarts)
	assert.Empty(t, res.Restarted)
}

func TestRun_CancelledContextAbortsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	target := &scriptedTarget{nodes: []string{"n1", "n2"}, script: []cluster.HealthStatus{G, Y}}
	rec := &sleepRecorder{}
	o := New("test", WithLogger(zap.NewNop()), WithSleeper(func(c context.Context, d time.Duration) error {
		rec.sleep(c, d)
		if len(rec.waits) == 2 {
			cancel()
		}
		return c.Err()
	}))
	res := o.Run(ctx, target, testPolicy())
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, []int{0}, target.restarts)
}

func TestRun_RejectsUnboundedPolicy(t *testing.T) {
	target := &scriptedTarget{nodes: []string{"n1"}, script: []cluster.HealthStatus{G}}
	res := newOrch(&sleepRecorder{}).Run(context.Background(), target, Policy{HealthAttempts: 3})
	assert.ErrorIs(t, res.Err, ErrBadPolicy)
	assert.Empty(t, target.restarts)
}
