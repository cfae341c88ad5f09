package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// Credentials are the account used to sign in to session-bound sources.
type Credentials struct {
	Email    string
	Password string
}

// ErrMissingCredentials is returned when no login is configured.
var ErrMissingCredentials = errors.New("config: missing login credentials")

// LoadDotEnv loads a .env file into the process environment. A missing file
// is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// LoadCredentials reads HARVEST_EMAIL / HARVEST_PASSWORD, falling back to the
// AMAZON_ prefixed names.
func LoadCredentials() (Credentials, error) {
	var creds Credentials
	creds.Email = firstEnv("HARVEST_EMAIL", "AMAZON_EMAIL")
	creds.Password = firstEnv("HARVEST_PASSWORD", "AMAZON_PASSWORD")
	if creds.Email == "" || creds.Password == "" {
		return creds, ErrMissingCredentials
	}
	return creds, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := EnvString(key); ok {
			return value
		}
	}
	return ""
}
