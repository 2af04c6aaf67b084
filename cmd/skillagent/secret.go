package main

import (
	"errors"
	"fmt"
	"os"

	"skillagent/internal/infra/config"
)

const configKeyEnv = "SKILLAGENT_CONFIG_KEY"

func lookupConfigKey() string { return os.Getenv(configKeyEnv) }

// encryptSecret returns value as an "enc:" config secret.
func encryptSecret(value, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("encrypt: " + configKeyEnv + " is not set")
	}
	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return config.SecretPrefix + enc, nil
}
