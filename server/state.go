package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hushplay/cipherpair/cluster"
	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/util"
)

const stateFilename = "state.bin"

// KeyEnvVar can carry a base64-encoded ed25519 private key to use as
// the cluster's verdict-signing key instead of generating one.
const KeyEnvVar = "CIPHERPAIR_PRIVATE_KEY"

// state is the cluster's persistent identity: the ed25519 key its
// verdicts are signed with and the X25519 secret that card boards are
// sealed to. Both survive restarts so that issued verdicts stay
// verifiable and registered boards stay readable.
type state struct {
	PrivKey    []byte
	SealSecret []byte
}

func saveState(datadir string, s *state) error {
	return util.Persist(filepath.Join(datadir, stateFilename), s)
}

// loadState restores the cluster identity from datadir, generating a
// fresh one on first boot. A key provided via the environment must
// match the persisted one, if any.
func loadState(ctx context.Context, datadir, encodedKey string) (*state, error) {
	envKey, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}

	s := &state{}
	switch err := util.Load(filepath.Join(datadir, stateFilename), s); {
	case errors.Is(err, os.ErrNotExist):
		if envKey != nil {
			s.PrivKey = envKey
		} else {
			logging.FromContext(ctx).Info("generating new cluster identity")
			_, priv, err := ed25519.GenerateKey(nil)
			if err != nil {
				return nil, fmt.Errorf("generating signing key: %w", err)
			}
			s.PrivKey = priv
		}
		identity, err := cluster.NewIdentity()
		if err != nil {
			return nil, fmt.Errorf("generating sealing identity: %w", err)
		}
		secret := identity.Secret()
		s.SealSecret = secret[:]
	case err != nil:
		return nil, err
	default:
		if len(s.PrivKey) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("persisted signing key has invalid size %d", len(s.PrivKey))
		}
		if len(s.SealSecret) != 32 {
			return nil, fmt.Errorf("persisted sealing secret has invalid size %d", len(s.SealSecret))
		}
		if envKey != nil && !ed25519.PrivateKey(s.PrivKey).Equal(ed25519.PrivateKey(envKey)) {
			return nil, fmt.Errorf("%s doesn't match the persisted key", KeyEnvVar)
		}
	}
	return s, nil
}

func decodeKey(encoded string) (ed25519.PrivateKey, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", KeyEnvVar, err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%s must hold a %d-byte key, got %d", KeyEnvVar, ed25519.PrivateKeySize, len(key))
	}
	return key, nil
}

func (s *state) sealIdentity() *cluster.Identity {
	var secret [32]byte
	copy(secret[:], s.SealSecret)
	return cluster.IdentityFromSecret(secret)
}
