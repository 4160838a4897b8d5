package config

// Store defines the interface for the adapter's persistent configuration.
// Saves are partial: only the keys present in the supplied map are written,
// everything else is left as-is.
type Store interface {
	// Load complete configuration as a key/value map
	Load() (map[string]string, error)

	// Save merges the supplied keys into the stored configuration
	Save(partial map[string]string) error

	// Get returns a single configuration value ("" when absent)
	Get(key string) (string, error)

	Close() error
}

// Well-known configuration keys
const (
	KeyClientID     = "client_id"
	KeyClientSecret = "client_secret"
	KeyRefreshToken = "refresh_token"
	KeyTokenExpiry  = "token_expiry"
)
