package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openlms/pesepay-gateway/internal/domain/ports"
	"go.uber.org/zap"
)

// localSecretManager implements the SecretManager port from plain files.
// Development only; use the AWS or Vault backend in production.
type localSecretManager struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalSecretManager creates a filesystem-backed secret manager
func NewLocalSecretManager(basePath string, logger *zap.Logger) ports.SecretManager {
	return &localSecretManager{
		basePath: basePath,
		logger:   logger,
	}
}

// GetSecret reads a secret value from <basePath>/<path>
func (m *localSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	filePath := filepath.Join(m.basePath, path)

	m.logger.Debug("Reading secret from filesystem",
		zap.String("path", path),
	)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secret not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	return &ports.Secret{
		Value:   strings.TrimSpace(string(data)),
		Version: "v1",
	}, nil
}
