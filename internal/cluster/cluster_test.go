package cluster

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNode(t *testing.T) {
	cases := []struct {
		raw  string
		want Node
	}{
		{"https://es-1:9201", Node{Host: "es-1", Port: 9201, Encrypted: true}},
		{"http://es-1", Node{Host: "es-1", Port: 9200}},
		{"r-1:6380", Node{Host: "r-1", Port: 6380}},
		{"r-1", Node{Host: "r-1", Port: 9200}},
		{"rediss://r-1:6379", Node{Host: "r-1", Port: 6379, Encrypted: true}},
		{"[::1]:9300", Node{Host: "::1", Port: 9300}},
		{"  es-2  ", Node{Host: "es-2", Port: 9200}},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			n, err := ParseNode(tc.raw, 9200)
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestParseNode_Invalid(t *testing.T) {
	for _, raw := range []string{"", "ftp://h:1", "h:notaport", "h:70000", "https://:9200"} {
		_, err := ParseNode(raw, 9200)
		assert.ErrorIs(t, err, ErrInvalidEndpoint, raw)
	}
	_, err := ParseNode("h", 0)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestNode_URLAndAgent(t *testing.T) {
	n := Node{Host: "es-1", Port: 9200, Encrypted: true}
	assert.Equal(t, "https://es-1:9200", n.URL())

	ep := AgentFor(n, 0)
	assert.Equal(t, "http://es-1:5000", ep.BaseURL())
	assert.Equal(t, "es-1:5050", AgentFor(n, 5050).Addr())
}

func TestNew_AgentsFollowNodeOrder(t *testing.T) {
	cl, err := New("logs", []string{"es-3", "", "es-1", "es-2"}, 9200, ParseCredentials("elastic:pw"))
	require.NoError(t, err)

	agents := cl.Agents()
	require.Len(t, agents, 3)
	assert.Equal(t, []string{"es-3", "es-1", "es-2"}, []string{agents[0].Host, agents[1].Host, agents[2].Host})
	assert.Equal(t, "logs[es-3:9200,es-1:9200,es-2:9200]", cl.String())

	_, err = New("x", nil, 9200, nil)
	assert.ErrorIs(t, err, ErrNoNodes)
	_, err = New("x", []string{" "}, 9200, nil)
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestParseCredentials(t *testing.T) {
	assert.Nil(t, ParseCredentials(""))
	assert.Equal(t, &Credentials{Secret: "pw"}, ParseCredentials("pw"))
	assert.Equal(t, &Credentials{Principal: "u", Secret: "p:w"}, ParseCredentials("u:p:w"))
	assert.Equal(t, "u:***", ParseCredentials("u:p").String())
}

func TestParseHealth(t *testing.T) {
	assert.Equal(t, HealthGreen, ParseHealth(" GREEN "))
	assert.Equal(t, HealthYellow, ParseHealth("yellow"))
	assert.Equal(t, HealthUnknown, ParseHealth("purple"))
	assert.True(t, HealthGreen.Green())
	assert.False(t, HealthYellow.Green())
}

func TestFlatten(t *testing.T) {
	doc := Flatten(map[string]any{
		"cluster": map[string]any{"name": "logs"},
		"path":    map[any]any{"data": "/var/lib/es", "logs": map[string]any{"dir": "/var/log"}},
		"empty":   map[string]any{},
		"top":     1,
	})
	assert.Equal(t, ConfigDocument{
		"cluster.name":  "logs",
		"path.data":     "/var/lib/es",
		"path.logs.dir": "/var/log",
		"empty":         map[string]any{},
		"top":           1,
	}, doc)
}

func TestMergeAndKeys(t *testing.T) {
	a := ConfigDocument{"a": 1, "b": 1}
	m := a.Merge(ConfigDocument{"b": 2, "c": 3})
	assert.Equal(t, ConfigDocument{"a": 1, "b": 2, "c": 3}, m)
	assert.Equal(t, 1, a["b"])
	assert.Equal(t, []string{"a", "b", "c"}, m.Keys())
}

func TestCoerceValues(t *testing.T) {
	out := CoerceValues(ConfigDocument{
		"flag":  "true",
		"off":   "FALSE",
		"list":  "a, b ,c",
		"plain": "512mb",
		"num":   3,
	})
	assert.Equal(t, ConfigDocument{
		"flag":  true,
		"off":   false,
		"list":  []string{"a", "b", "c"},
		"plain": "512mb",
		"num":   3,
	}, out)
}

// La coerción no puede transmitir strings que contengan comas ni la palabra "true".
func TestCoerceValues_IsLossy(t *testing.T) {
	out := CoerceValues(ConfigDocument{
		"description": "fast, cheap",
		"literal":     "true",
	})
	assert.Equal(t, []string{"fast", "cheap"}, out["description"])
	assert.Equal(t, true, out["literal"])
}

func TestCollector_OrdersByNodeIndex(t *testing.T) {
	c := NewCollector(4)
	var wg sync.WaitGroup
	for _, i := range []int{3, 1} {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Fail(i, fmt.Sprintf("n%d", i), "boom %d", i)
		}(i)
	}
	wg.Wait()

	out := c.Outcome()
	assert.False(t, out.Success)
	require.Len(t, out.Failures, 2)
	assert.Equal(t, "n1", out.Failures[0].Node)
	assert.Equal(t, "n3", out.Failures[1].Node)
	assert.Equal(t, "n1: boom 1; n3: boom 3", out.Error())

	assert.True(t, NewCollector(2).Outcome().Success)
	assert.Equal(t, "", Succeeded().Error())
}
