// Package credentials resuelve las credenciales de un cluster por nombre. El valor es
// "principal:secret" (o un secret solo) y se entrega al driver sin interpretarlo.
package credentials

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

var ErrNotFound = errors.New("credentials: not found")

// Lookup devuelve las credenciales de un cluster.
type Lookup interface {
	Lookup(ctx context.Context, cluster string) (string, error)
}

// LookupFunc adapta una función a Lookup.
type LookupFunc func(ctx context.Context, cluster string) (string, error)

func (f LookupFunc) Lookup(ctx context.Context, cluster string) (string, error) { return f(ctx, cluster) }

// Static sirve credenciales de un mapa fijo (típicamente la sección clusters del config).
type Static map[string]string

func (s Static) Lookup(_ context.Context, cluster string) (string, error) {
	v, ok := s[cluster]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Cached envuelve un Lookup con un cache TTL en memoria. Sólo cachea aciertos.
type Cached struct {
	next Lookup
	c    *gocache.Cache
}

func NewCached(next Lookup, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{next: next, c: gocache.New(ttl, time.Minute)}
}

func (c *Cached) Lookup(ctx context.Context, cluster string) (string, error) {
	if v, ok := c.c.Get(cluster); ok {
		s, _ := v.(string)
		return s, nil
	}
	v, err := c.next.Lookup(ctx, cluster)
	if err != nil {
		return "", err
	}
	c.c.SetDefault(cluster, v)
	return v, nil
}

// Invalidate descarta la entrada de un cluster (por ejemplo tras rotar su password).
func (c *Cached) Invalidate(cluster string) { c.c.Delete(cluster) }
