// Package static accepts a fixed set of bearer tokens, one per API client.
package static

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/osvaldoandrade/imagegate/pkg/auth"
)

var errInvalidToken = errors.New("invalid token")

// client is one accepted token and the identity it maps to.
type client struct {
	Token   string         `json:"token"`
	Subject string         `json:"subject,omitempty"`
	Email   string         `json:"email,omitempty"`
	Scopes  []string       `json:"scopes,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}

// config accepts a single client inline or several under "clients".
type config struct {
	client
	Clients []client `json:"clients,omitempty"`
}

type validator struct {
	clients []client
}

// NewValidatorFromJSON accepts a bare JSON string token, a single client
// object, or {"clients":[...]}.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("static auth: missing config")
	}

	var cfg config
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &cfg.Token); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("static auth: invalid config: %w", err)
	}

	all := cfg.Clients
	if strings.TrimSpace(cfg.Token) != "" {
		all = append([]client{cfg.client}, all...)
	}
	if len(all) == 0 {
		return nil, errors.New("static auth: token is required")
	}

	seen := make(map[string]bool, len(all))
	for i := range all {
		c := &all[i]
		c.Token = strings.TrimSpace(c.Token)
		if c.Token == "" {
			return nil, fmt.Errorf("static auth: client %d has no token", i)
		}
		if seen[c.Token] {
			return nil, fmt.Errorf("static auth: client %d reuses a token", i)
		}
		seen[c.Token] = true
		c.Subject = strings.TrimSpace(c.Subject)
		if c.Subject == "" {
			c.Subject = "static"
		}
	}
	return &validator{clients: all}, nil
}

func (v *validator) Validate(token string) (*auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errInvalidToken
	}
	// Every entry is compared so timing does not reveal which client matched.
	var match *client
	for i := range v.clients {
		if subtle.ConstantTimeCompare([]byte(token), []byte(v.clients[i].Token)) == 1 {
			match = &v.clients[i]
		}
	}
	if match == nil {
		return nil, errInvalidToken
	}
	raw := maps.Clone(match.Raw)
	if raw == nil {
		raw = map[string]any{}
	}
	return &auth.Claims{
		Subject: match.Subject,
		Email:   match.Email,
		Scopes:  slices.Clone(match.Scopes),
		Raw:     raw,
	}, nil
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
