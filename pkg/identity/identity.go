// Package identity loads the node key and derives the local node id from it.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"basp/pkg/config"
	"basp/pkg/node"
)

// ErrBadKey is returned for key material of the wrong size or encoding.
var ErrBadKey = errors.New("identity: bad ed25519 private key")

// LoadOrGenEd25519 loads an ed25519 private key from config or generates a
// new one. Configured but unusable key material is an error.
func LoadOrGenEd25519(c config.IdentityConfig) (ed25519.PrivateKey, error) {
	if alg := strings.ToLower(strings.TrimSpace(c.Alg)); alg != "" && alg != "ed25519" {
		return nil, fmt.Errorf("identity: unsupported alg %q", c.Alg)
	}
	if s := strings.TrimSpace(c.PrivateKey); s != "" {
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: identity.private_key: %v", ErrBadKey, err)
		}
		return checkKey(b)
	}
	if c.PrivateKeyFile != "" {
		raw, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("identity: read key file: %w", err)
		}
		if b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(string(raw))); err == nil {
			return checkKey(b)
		}
		return checkKey(raw)
	}
	_, pk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	zap.L().Info("generated new ed25519 identity (persist to identity.private_key)",
		zap.String("private_key", base64.RawURLEncoding.EncodeToString(pk)))
	return pk, nil
}

func checkKey(b []byte) (ed25519.PrivateKey, error) {
	switch len(b) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrBadKey, len(b))
	}
}

// NodeID derives the node id of this process from its key.
func NodeID(pk ed25519.PrivateKey) node.ID {
	return node.FromPublicKey(uint32(os.Getpid()), pk.Public().(ed25519.PublicKey))
}
