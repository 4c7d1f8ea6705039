package config

// IdentityConfig describes the key material the node id is derived from.
type IdentityConfig struct {
	Alg            string `mapstructure:"alg"`              // ed25519
	PrivateKey     string `mapstructure:"private_key"`      // base64url(no padding) of raw private key bytes
	PrivateKeyFile string `mapstructure:"private_key_file"` // path to file containing base64 or raw bytes
}
