package types

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestSecretStringRedaction(t *testing.T) {
	s := SecretString("postgres://user:hunter2@db/ticketwatch")

	if got := fmt.Sprintf("%v", s); got != redactedPlaceholder {
		t.Errorf("fmt leaked secret: %q", got)
	}

	b, err := json.Marshal(struct {
		URL SecretString `json:"url"`
	}{s})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(b) != `{"url":"***REDACTED***"}` {
		t.Errorf("json leaked secret: %s", b)
	}

	if s.Unmask() != "postgres://user:hunter2@db/ticketwatch" {
		t.Error("Unmask() should return the raw value")
	}
}
