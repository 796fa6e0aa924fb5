// Package jwtauthz implements ports.AuthorizationService on bearer JWTs,
// grounded on pkg/api/interceptor.go's static allow-list gating of
// write methods, generalized from a fixed read-only/write-capable
// split into a static per-role capability allow-list built at
// construction; the token's claims carry only the principal's roles.
package jwtauthz

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// claims is the expected shape of a devicehub bearer token: a standard
// JWT subject plus a "roles" custom claim.
type claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Service authenticates bearer tokens signed with a single shared HMAC
// key and authorizes by looking up the principal's roles in a static
// role -> allowed-capabilities table, the same shape as
// interceptor.go's method-prefix allow-list, keyed by capability
// instead of gRPC method name.
type Service struct {
	key         []byte
	roleAllowed map[string]map[ports.Capability]bool
}

// New builds a Service. roleCapabilities maps a role name to the
// capabilities principals holding it may exercise; a principal's
// effective capability set is the union across all of its roles.
func New(hmacKey []byte, roleCapabilities map[string][]ports.Capability) *Service {
	allowed := make(map[string]map[ports.Capability]bool, len(roleCapabilities))
	for role, caps := range roleCapabilities {
		set := make(map[ports.Capability]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		allowed[role] = set
	}
	return &Service{key: hmacKey, roleAllowed: allowed}
}

// Authenticate parses credential, a bearer token optionally prefixed
// with "Bearer ", verifies its HMAC signature and expiry, and returns
// the Principal it carries.
func (s *Service) Authenticate(ctx context.Context, credential string) (ports.Principal, error) {
	token := strings.TrimPrefix(credential, "Bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return ports.Principal{}, fmt.Errorf("jwtauthz: empty credential")
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return ports.Principal{}, fmt.Errorf("jwtauthz: %w", err)
	}

	return ports.Principal{Subject: c.Subject, Roles: c.Roles}, nil
}

// Authorize grants cap iff any of p's roles is allow-listed for it.
// target is accepted for interface conformance; this reference
// implementation authorizes per-capability only, not per-device.
func (s *Service) Authorize(ctx context.Context, p ports.Principal, cap ports.Capability, target name.Address) error {
	for _, role := range p.Roles {
		if s.roleAllowed[role][cap] {
			return nil
		}
	}
	return fmt.Errorf("jwtauthz: principal %q lacks capability %q", p.Subject, cap)
}
