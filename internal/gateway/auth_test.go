package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/switchboard/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestSecretEqual(t *testing.T) {
	assert.True(t, secretEqual("abc", "abc"))
	assert.True(t, secretEqual("", ""))
	assert.False(t, secretEqual("abc", "abd"))
	assert.False(t, secretEqual("abc", "abcd"))
	assert.False(t, secretEqual("", "abc"))
}

func TestNewAuthenticator(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.GatewayAuth
		envTok   string
		envPass  string
		mode     string
		accepted Credentials
	}{
		{"token from config", config.GatewayAuth{Mode: AuthToken, Token: "t1"}, "", "", AuthToken, Credentials{Token: "t1"}},
		{"password from config", config.GatewayAuth{Mode: AuthPassword, Password: "p1"}, "", "", AuthPassword, Credentials{Password: "p1"}},
		{"mode defaults to token", config.GatewayAuth{Token: "t1"}, "", "", AuthToken, Credentials{Token: "t1"}},
		{"password selects password mode", config.GatewayAuth{Password: "p1"}, "", "", AuthPassword, Credentials{Password: "p1"}},
		{"token from env", config.GatewayAuth{Mode: AuthToken}, "env-t", "", AuthToken, Credentials{Token: "env-t"}},
		{"password from env", config.GatewayAuth{}, "", "env-p", AuthPassword, Credentials{Password: "env-p"}},
		{"config wins over env", config.GatewayAuth{Token: "cfg-t"}, "env-t", "", AuthToken, Credentials{Token: "cfg-t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvGatewayToken, tt.envTok)
			t.Setenv(EnvGatewayPassword, tt.envPass)

			a := NewAuthenticator(tt.cfg)
			assert.Equal(t, tt.mode, a.Mode)
			res := a.Check(&tt.accepted)
			assert.True(t, res.OK, res.Reason)
			assert.Equal(t, tt.mode, res.Method)
		})
	}
}

func TestCheck(t *testing.T) {
	t.Setenv(EnvGatewayToken, "")
	t.Setenv(EnvGatewayPassword, "")

	token := NewAuthenticator(config.GatewayAuth{Mode: AuthToken, Token: "secret"})
	password := NewAuthenticator(config.GatewayAuth{Mode: AuthPassword, Password: "hunter"})
	unset := NewAuthenticator(config.GatewayAuth{Mode: AuthToken})

	tests := []struct {
		name   string
		auth   *Authenticator
		creds  *Credentials
		reason string
	}{
		{"token mismatch", token, &Credentials{Token: "nope"}, "token_mismatch"},
		{"token missing", token, &Credentials{}, "token required"},
		{"password offered to token mode", token, &Credentials{Password: "secret"}, "token required"},
		{"no credentials", token, nil, "no credentials provided"},
		{"password mismatch", password, &Credentials{Password: "nope"}, "password_mismatch"},
		{"password missing", password, &Credentials{Token: "hunter"}, "password required"},
		{"server secret unset", unset, &Credentials{Token: "x"}, "server token not configured"},
		{"unknown mode", &Authenticator{Mode: "oauth"}, &Credentials{Token: "x"}, "unknown auth mode: oauth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.auth.Check(tt.creds)
			assert.False(t, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestCheckNoneMode(t *testing.T) {
	a := NewAuthenticator(config.GatewayAuth{Mode: AuthNone})
	res := a.Check(nil)
	assert.True(t, res.OK)
	assert.Equal(t, AuthNone, res.Method)
}

func TestCheckRequest(t *testing.T) {
	t.Setenv(EnvGatewayToken, "")
	t.Setenv(EnvGatewayPassword, "")

	token := NewAuthenticator(config.GatewayAuth{Mode: AuthToken, Token: "secret"})
	password := NewAuthenticator(config.GatewayAuth{Mode: AuthPassword, Password: "hunter"})
	none := NewAuthenticator(config.GatewayAuth{Mode: AuthNone})

	tests := []struct {
		name   string
		auth   *Authenticator
		header string
		ok     bool
	}{
		{"valid token", token, "Bearer secret", true},
		{"wrong token", token, "Bearer other", false},
		{"basic scheme", token, "Basic secret", false},
		{"missing header", token, "", false},
		{"password as bearer", password, "Bearer hunter", true},
		{"none mode", none, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/health", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.ok, tt.auth.CheckRequest(r).OK)
		})
	}
}
