package vault

import (
	"context"
	"fmt"
	"sync"

	"gold-analysis-engine/config"

	"github.com/hashicorp/vault/api"
)

// Client wraps the HashiCorp Vault client for provider API key
// retrieval. Keys live in one KV v2 secret keyed by provider name.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[string]string // provider name -> API key
}

// NewClient creates a new Vault client. A disabled config yields a
// client whose lookups are no-ops, so callers never branch on Enabled.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg, cache: make(map[string]string)}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]string),
	}, nil
}

// ProviderKeys reads all provider API keys from the configured secret.
// Results are cached for the process lifetime; keys rotate by restart.
func (c *Client) ProviderKeys(ctx context.Context) (map[string]string, error) {
	if !c.config.Enabled {
		return nil, nil
	}

	c.mu.RLock()
	if len(c.cache) > 0 {
		cached := make(map[string]string, len(c.cache))
		for k, v := range c.cache {
			cached[k] = v
		}
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider keys from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("provider key secret not found at %s", path)
	}

	// KV v2 wraps the payload in a "data" map
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	keys := make(map[string]string, len(data))
	for name, val := range data {
		if s, ok := val.(string); ok && s != "" {
			keys[name] = s
		}
	}

	c.mu.Lock()
	c.cache = keys
	c.mu.Unlock()

	out := make(map[string]string, len(keys))
	for k, v := range keys {
		out[k] = v
	}
	return out, nil
}

// ProviderKey returns the API key for one provider
func (c *Client) ProviderKey(ctx context.Context, provider string) (string, error) {
	keys, err := c.ProviderKeys(ctx)
	if err != nil {
		return "", err
	}
	key, ok := keys[provider]
	if !ok {
		return "", fmt.Errorf("no API key in vault for provider %q", provider)
	}
	return key, nil
}

// ApplyToConfig fills empty provider API keys from Vault, leaving
// config-file keys untouched. A disabled client is a no-op.
func (c *Client) ApplyToConfig(ctx context.Context, md *config.MarketDataConfig) error {
	if !c.config.Enabled {
		return nil
	}

	keys, err := c.ProviderKeys(ctx)
	if err != nil {
		return err
	}

	for i := range md.Providers {
		if md.Providers[i].APIKey != "" {
			continue
		}
		if key, ok := keys[md.Providers[i].Name]; ok {
			md.Providers[i].APIKey = key
		}
	}
	return nil
}

// ClearCache drops the cached keys, forcing a re-read on next lookup
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]string)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}
