package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sluggisty/dashboard/internal/infrastructure/store"
)

// CredentialsPath returns the credentials file for a context. Each context
// keeps its own tokens, session activity and error log.
func CredentialsPath(contextName string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(homeDir, ".config", "sluggisty")
	return filepath.Join(configDir, fmt.Sprintf("credentials-%s.json", contextName)), nil
}

// credentialStore opens the file store backing a context. The file is
// written with owner-only permissions.
func credentialStore(contextName string) (store.Store, error) {
	path, err := CredentialsPath(contextName)
	if err != nil {
		return nil, err
	}
	return store.Instrument("file", store.NewFile(path)), nil
}

// RemoveCredentials removes the credentials file for a context
func RemoveCredentials(contextName string) error {
	path, err := CredentialsPath(contextName)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}

	return nil
}
