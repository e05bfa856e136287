package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/soyeahso/switchboard/internal/config"
)

// Auth modes.
const (
	AuthToken    = "token"
	AuthPassword = "password"
	AuthNone     = "none"
)

// Environment variables consulted when the config leaves a secret empty.
const (
	EnvGatewayToken    = "SWITCHBOARD_GATEWAY_TOKEN"
	EnvGatewayPassword = "SWITCHBOARD_GATEWAY_PASSWORD"
)

// AuthResult is the outcome of a credential check.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Authenticator checks WebSocket and REST credentials against the
// configured gateway secret.
type Authenticator struct {
	Mode   string
	secret string
}

// NewAuthenticator resolves the gateway secret. Config values win over the
// environment. Without a mode, a password selects password mode and
// anything else token mode.
func NewAuthenticator(cfg config.GatewayAuth) *Authenticator {
	token := cfg.Token
	if token == "" {
		token = os.Getenv(EnvGatewayToken)
	}
	password := cfg.Password
	if password == "" {
		password = os.Getenv(EnvGatewayPassword)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = AuthToken
		if password != "" {
			mode = AuthPassword
		}
	}

	a := &Authenticator{Mode: mode}
	switch mode {
	case AuthToken:
		a.secret = token
	case AuthPassword:
		a.secret = password
	}
	return a
}

// Check authenticates connect credentials.
func (a *Authenticator) Check(c *Credentials) AuthResult {
	switch a.Mode {
	case AuthNone:
		return AuthResult{OK: true, Method: AuthNone}
	case AuthToken, AuthPassword:
	default:
		return AuthResult{Reason: "unknown auth mode: " + a.Mode}
	}

	if a.secret == "" {
		return AuthResult{Reason: "server " + a.Mode + " not configured"}
	}
	if c == nil {
		return AuthResult{Reason: "no credentials provided"}
	}
	given := c.Token
	if a.Mode == AuthPassword {
		given = c.Password
	}
	if given == "" {
		return AuthResult{Reason: a.Mode + " required"}
	}
	if !secretEqual(given, a.secret) {
		return AuthResult{Reason: a.Mode + "_mismatch"}
	}
	return AuthResult{OK: true, Method: a.Mode}
}

// CheckRequest authenticates the bearer credential of a REST request. The
// credential is the token or the password, per the mode.
func (a *Authenticator) CheckRequest(r *http.Request) AuthResult {
	if a.Mode == AuthNone {
		return AuthResult{OK: true, Method: AuthNone}
	}
	cred, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return AuthResult{Reason: "bearer credential required"}
	}
	return a.Check(&Credentials{Token: cred, Password: cred})
}

// secretEqual compares digests so neither content nor length leaks
// through timing.
func secretEqual(given, want string) bool {
	g := sha256.Sum256([]byte(given))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}
