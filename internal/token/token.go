// Package token emite y valida los tokens firmados de vida corta que autorizan
// cada comando privilegiado enviado a un agente.
//
// El token es un JWT HS256 con el claim fijo {"confirm": true} y ventana de validez
// [iat, iat+ttl). Ambos extremos (orquestador y agente) comparten el secret.
// No hay protección contra replay más allá del TTL.
package token

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// DefaultTTL es la vida por defecto de un token.
const DefaultTTL = 300 * time.Second

var (
	ErrExpired      = errors.New("token: expired")
	ErrBadSignature = errors.New("token: bad signature")
	ErrMalformed    = errors.New("token: malformed")
	ErrNoSecret     = errors.New("token: empty signing secret")
)

// Claims son los claims que viajan en cada token de agente.
type Claims struct {
	Confirm bool `json:"confirm"`
	jwtv5.RegisteredClaims
}

// Authenticator firma y valida tokens con un secret compartido.
// Es seguro para uso concurrente; el secret es de sólo lectura.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configura un Authenticator.
type Option func(*Authenticator)

// WithTTL cambia la vida de los tokens emitidos.
func WithTTL(ttl time.Duration) Option {
	return func(a *Authenticator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// New crea un Authenticator. El secret no puede estar vacío.
func New(secret string, opts ...Option) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	a := &Authenticator{secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// TTL devuelve la vida configurada.
func (a *Authenticator) TTL() time.Duration { return a.ttl }

// Issue emite un token nuevo. Se llama una vez por comando.
func (a *Authenticator) Issue() (string, error) {
	now := a.now()
	claims := Claims{
		Confirm: true,
		RegisteredClaims: jwtv5.RegisteredClaims{
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(a.ttl)),
		},
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	signed, err := tk.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Validate verifica firma y expiración. Los errores son ErrExpired, ErrBadSignature
// o ErrMalformed (comparables con errors.Is).
func (a *Authenticator) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwtv5.ParseWithClaims(raw, claims,
		func(t *jwtv5.Token) (any, error) { return a.secret, nil },
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithTimeFunc(a.now),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}
	if !tok.Valid || !claims.Confirm {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwtv5.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
