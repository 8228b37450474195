package auth

import (
	"slices"
	"time"
)

// Claims is the caller identity extracted from a bearer token.
type Claims struct {
	Subject   string
	Email     string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
	Raw       map[string]any
}

func (c *Claims) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// Validator turns a bearer token into Claims or rejects it.
type Validator interface {
	Validate(token string) (*Claims, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(token string) (*Claims, error)

func (f ValidatorFunc) Validate(token string) (*Claims, error) { return f(token) }
