package ports

import "context"

// Secret is a retrieved secret with minimal metadata.
type Secret struct {
	Value   string
	Version string
}

// SecretManager retrieves the gateway credentials (Pesepay integration id and
// encryption key) from a secret backend. Implementations handle auth with the
// backend and short-TTL caching.
type SecretManager interface {
	// GetSecret retrieves a secret by path/name. Path format depends on the
	// backend (AWS secret name, Vault KV path, or a local file path).
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
