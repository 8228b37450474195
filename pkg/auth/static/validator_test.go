package static

import (
	"encoding/json"
	"testing"

	"github.com/osvaldoandrade/imagegate/pkg/auth"
)

func TestStaticValidator(t *testing.T) {
	raw := json.RawMessage(`{"token":"t-1","subject":"s-1","email":"e@local","scopes":["images:generate"],"raw":{"plan":"pro"}}`)
	v, err := NewValidatorFromJSON(raw)
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}

	claims, err := v.Validate("t-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "s-1" {
		t.Fatalf("expected subject s-1, got %q", claims.Subject)
	}
	if claims.Email != "e@local" {
		t.Fatalf("expected email e@local, got %q", claims.Email)
	}
	if !claims.HasScope("images:generate") {
		t.Fatalf("expected scope present")
	}
	if claims.Raw["plan"] != "pro" {
		t.Fatalf("expected raw claims, got %v", claims.Raw)
	}

	if _, err := v.Validate("wrong"); err == nil {
		t.Fatalf("expected validation error for wrong token")
	}
}

func TestStaticValidator_StringConfig(t *testing.T) {
	v, err := NewValidatorFromJSON(json.RawMessage(`"t-2"`))
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}
	claims, err := v.Validate(" t-2 ")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "static" {
		t.Fatalf("default subject = %q", claims.Subject)
	}
}

func TestStaticValidator_RejectsMissingToken(t *testing.T) {
	for _, raw := range []string{``, `{}`, `{"token":"  "}`, `{bad`} {
		if _, err := NewValidatorFromJSON(json.RawMessage(raw)); err == nil {
			t.Errorf("config %q: expected error", raw)
		}
	}
}

func TestStaticValidator_Registered(t *testing.T) {
	v, err := auth.NewValidator(auth.ProviderConfig{Type: "static", Config: json.RawMessage(`"tok"`)})
	if err != nil {
		t.Fatalf("NewValidator(static): %v", err)
	}
	if _, err := v.Validate("tok"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestStaticValidator_MultipleClients(t *testing.T) {
	raw := json.RawMessage(`{"clients":[
		{"token":"web-token","subject":"web","scopes":["images:generate"]},
		{"token":"batch-token","subject":"batch"}
	]}`)
	v, err := NewValidatorFromJSON(raw)
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}

	web, err := v.Validate("web-token")
	if err != nil || web.Subject != "web" || !web.HasScope("images:generate") {
		t.Fatalf("web claims = %+v, err = %v", web, err)
	}
	batch, err := v.Validate("batch-token")
	if err != nil || batch.Subject != "batch" || batch.HasScope("images:generate") {
		t.Fatalf("batch claims = %+v, err = %v", batch, err)
	}

	web.Scopes[0] = "tampered"
	again, _ := v.Validate("web-token")
	if !again.HasScope("images:generate") {
		t.Fatalf("claims must not share state between calls")
	}
}

func TestStaticValidator_RejectsDuplicateTokens(t *testing.T) {
	raw := json.RawMessage(`{"token":"same","clients":[{"token":"same","subject":"other"}]}`)
	if _, err := NewValidatorFromJSON(raw); err == nil {
		t.Fatalf("expected duplicate token error")
	}
}
