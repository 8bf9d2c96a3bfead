package vault

import (
	"context"
	"testing"

	"gold-analysis-engine/config"
)

func TestDisabledClientIsNoOp(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("disabled client construction failed: %v", err)
	}
	if c.IsEnabled() {
		t.Error("client should report disabled")
	}

	keys, err := c.ProviderKeys(context.Background())
	if err != nil {
		t.Errorf("disabled lookup should not error: %v", err)
	}
	if keys != nil {
		t.Errorf("disabled lookup should return nil, got %v", keys)
	}

	if err := c.Health(context.Background()); err != nil {
		t.Errorf("disabled health check should pass: %v", err)
	}
}

func TestApplyToConfigPreservesExistingKeys(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("client construction failed: %v", err)
	}

	md := config.MarketDataConfig{
		Providers: []config.ProviderConfig{
			{Name: "goldapi", APIKey: "from-config"},
			{Name: "twelvedata"},
		},
	}
	if err := c.ApplyToConfig(context.Background(), &md); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if md.Providers[0].APIKey != "from-config" {
		t.Errorf("existing key was overwritten: %q", md.Providers[0].APIKey)
	}
	if md.Providers[1].APIKey != "" {
		t.Errorf("disabled client should not fill keys, got %q", md.Providers[1].APIKey)
	}
}
