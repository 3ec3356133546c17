package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type expiry struct {
	at time.Time
	ok bool
}

// Reconciliation re-reads the same token every tick; parsing it once is enough.
var expiries = lru.NewLRU[string, expiry](64, nil, time.Hour)

// TokenExpiry reads exp from a JWT without verifying it. Opaque tokens report ok=false.
func TokenExpiry(tok string) (time.Time, bool) {
	if e, hit := expiries.Get(tok); hit {
		return e.at, e.ok
	}
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)
	e := expiry{}
	if err == nil && claims.ExpiresAt != nil {
		e = expiry{at: claims.ExpiresAt.Time, ok: true}
	}
	expiries.Add(tok, e)
	return e.at, e.ok
}

// TokenExpired reports whether tok is a JWT whose exp is at or before now.
func TokenExpired(tok string, now time.Time) bool {
	exp, ok := TokenExpiry(tok)
	return ok && !now.Before(exp)
}
