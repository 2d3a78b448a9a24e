package secrets

import (
	"context"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/openlms/pesepay-gateway/internal/domain/ports"
	"go.uber.org/zap"
)

// VaultConfig contains configuration for the HashiCorp Vault backend
type VaultConfig struct {
	Address     string // e.g. "https://vault.example.org:8200"
	Token       string
	MountPath   string // KV v2 mount, default "secret"
	CacheTTL    time.Duration
	EnableCache bool
}

// vaultSecretManager implements the SecretManager port for Vault KV v2.
type vaultSecretManager struct {
	client    *vault.Client
	mountPath string
	logger    *zap.Logger
	cache     *secretCache
}

// NewVaultSecretManager creates a new Vault backend using token auth
func NewVaultSecretManager(cfg *VaultConfig, logger *zap.Logger) (ports.SecretManager, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	logger.Info("Vault backend initialized",
		zap.String("address", cfg.Address),
		zap.String("mount_path", cfg.MountPath),
	)

	return &vaultSecretManager{
		client:    client,
		mountPath: cfg.MountPath,
		logger:    logger,
		cache:     newSecretCache(cfg.EnableCache, cfg.CacheTTL),
	}, nil
}

// GetSecret retrieves the "value" field of a KV v2 secret
func (v *vaultSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached := v.cache.get(path); cached != nil {
		return cached, nil
	}

	kv, err := v.client.KVv2(v.mountPath).Get(ctx, path)
	if err != nil {
		v.logger.Error("Failed to retrieve secret from Vault",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get secret %s: %w", path, err)
	}

	value, ok := kv.Data["value"].(string)
	if !ok {
		return nil, fmt.Errorf("secret %s has no string field %q", path, "value")
	}

	secret := &ports.Secret{
		Value:   value,
		Version: fmt.Sprintf("%d", kv.VersionMetadata.Version),
	}
	v.cache.put(path, secret)

	return secret, nil
}
