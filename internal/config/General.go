package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// CategoryID is the token category this index tracks.
	CategoryID uint64

	// IndexSize is how many of the category's largest tokens the pool holds.
	IndexSize int

	// SwapFee is the pool swap fee as a decimal string (e.g. "0.025").
	SwapFee string

	// PoolAddress is the pool's identity on the token ledger.
	PoolAddress string

	// UnbindRecipient receives residual balances of removed tokens.
	UnbindRecipient string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	CategoryID, err = getEnvAsUint64("INDEX_CATEGORY_ID")
	if err != nil {
		return err
	}

	IndexSize, err = getEnvAsInt("INDEX_SIZE")
	if err != nil {
		return err
	}

	SwapFee, err = getEnv("SWAP_FEE")
	if err != nil {
		return err
	}

	PoolAddress, err = getEnv("POOL_ADDRESS")
	if err != nil {
		return err
	}

	UnbindRecipient, err = getEnv("UNBIND_RECIPIENT")
	if err != nil {
		return err
	}

	if err := loadEndpointConfig(); err != nil {
		return err
	}

	if err := loadTokenConfig(); err != nil {
		return err
	}

	log.Debug().
		Uint64("CategoryID", CategoryID).
		Int("IndexSize", IndexSize).
		Str("SwapFee", SwapFee).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}
