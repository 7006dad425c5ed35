package config

import (
	"context"
	"testing"
)

func TestEnvVarProviderSatisfiesSecretProvider(t *testing.T) {
	var _ SecretProvider = NewEnvVarProvider()
}

func TestEnvVarProviderResolvesSetVariables(t *testing.T) {
	t.Setenv("TICKETWATCH_TEST_SECRET_A", "value-alpha")
	t.Setenv("TICKETWATCH_TEST_SECRET_EMPTY", "")

	provider := NewEnvVarProvider()
	result, err := provider.GetParametersBatch(context.Background(), []string{
		"TICKETWATCH_TEST_SECRET_A",
		"TICKETWATCH_TEST_SECRET_EMPTY",
		"TICKETWATCH_TEST_DEFINITELY_NOT_SET",
	})
	if err != nil {
		t.Fatalf("GetParametersBatch returned unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 result, got %d: %v", len(result), result)
	}
	if got := result["TICKETWATCH_TEST_SECRET_A"]; got != "value-alpha" {
		t.Errorf("result = %q, want value-alpha", got)
	}
}

func TestEnvVarProviderWithLoader(t *testing.T) {
	setFullTestEnv(t)
	t.Setenv("LAMBDA_SECRET_PURCHASE", "pk-live")
	t.Setenv("PURCHASE_API_KEY_SECRET_REF", "LAMBDA_SECRET_PURCHASE")

	cfg, err := loadConfigWithDeps(NewEnvVarProvider(), testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps returned error: %v", err)
	}
	if got := cfg.Purchase.APIKey.Unmask(); got != "pk-live" {
		t.Errorf("Purchase.APIKey = %q, want pk-live", got)
	}
}
