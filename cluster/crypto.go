package cluster

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/dh/x25519"
	"github.com/minio/sha256-simd" // simd optimized sha256 computation
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/hushplay/cipherpair/shared"
)

// Card blobs are 32 bytes: a 12-byte AEAD nonce, the 17-byte sealed
// one-byte value, 3 bytes of padding. Result blobs reuse the layout
// except the nonce travels separately as shared.ResultNonce.
const (
	cardNonceSize  = chacha20poly1305.NonceSize
	sealedCardSize = 1 + chacha20poly1305.Overhead

	roundKeyInfo = "cipherpair/round-key/v1"
)

var ErrKeyAgreement = errors.New("x25519 key agreement failed")

// Identity is an X25519 keypair. Both sides of the sealing scheme hold
// one: round owners publish theirs as the round's verification key,
// the cluster publishes its key for owners to seal boards to.
type Identity struct {
	public x25519.Key
	secret x25519.Key
}

func NewIdentity() (*Identity, error) {
	var id Identity
	if _, err := io.ReadFull(rand.Reader, id.secret[:]); err != nil {
		return nil, fmt.Errorf("generating x25519 secret: %w", err)
	}
	x25519.KeyGen(&id.public, &id.secret)
	return &id, nil
}

// IdentityFromSecret rebuilds an identity from a persisted secret key.
func IdentityFromSecret(secret [32]byte) *Identity {
	id := Identity{secret: x25519.Key(secret)}
	x25519.KeyGen(&id.public, &id.secret)
	return &id
}

func (id *Identity) Public() [32]byte { return [32]byte(id.public) }
func (id *Identity) Secret() [32]byte { return [32]byte(id.secret) }

// SealCards encrypts plain card values to the key shared between this
// identity and peer for one round. Clients use it to build the board
// they register.
func (id *Identity) SealCards(peer [32]byte, boardNonce shared.BoardNonce, cards []uint8) ([]shared.Ciphertext, error) {
	key, err := id.roundKey(peer, boardNonce)
	if err != nil {
		return nil, err
	}
	sealed := make([]shared.Ciphertext, len(cards))
	for i, card := range cards {
		sealed[i], err = sealCard(key, card)
		if err != nil {
			return nil, err
		}
	}
	return sealed, nil
}

// OpenResult decrypts a match indicator addressed to this identity.
func (id *Identity) OpenResult(
	peer [32]byte,
	boardNonce shared.BoardNonce,
	cipher shared.Ciphertext,
	nonce shared.ResultNonce,
) (bool, error) {
	key, err := id.roundKey(peer, boardNonce)
	if err != nil {
		return false, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return false, fmt.Errorf("initializing result cipher: %w", err)
	}
	value, err := aead.Open(nil, nonce[:cardNonceSize], cipher[:sealedCardSize], nil)
	if err != nil {
		return false, fmt.Errorf("opening match indicator: %w", err)
	}
	return value[0] != 0, nil
}

// roundKey derives the per-round symmetric key from the X25519 shared
// secret, salted with the board nonce so distinct rounds between the
// same parties use distinct keys.
func (id *Identity) roundKey(peer [32]byte, boardNonce shared.BoardNonce) ([]byte, error) {
	peerKey := x25519.Key(peer)
	var sharedSecret x25519.Key
	if !x25519.Shared(&sharedSecret, &id.secret, &peerKey) {
		return nil, ErrKeyAgreement
	}
	kdf := hkdf.New(sha256.New, sharedSecret[:], boardNonce[:], []byte(roundKeyInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving round key: %w", err)
	}
	return key, nil
}

func sealCard(key []byte, card uint8) (shared.Ciphertext, error) {
	var blob shared.Ciphertext
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return blob, fmt.Errorf("initializing card cipher: %w", err)
	}
	if _, err := rand.Read(blob[:cardNonceSize]); err != nil {
		return blob, fmt.Errorf("generating card nonce: %w", err)
	}
	copy(blob[cardNonceSize:], aead.Seal(nil, blob[:cardNonceSize], []byte{card}, nil))
	return blob, nil
}

func openCard(key []byte, blob shared.Ciphertext) (uint8, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return 0, fmt.Errorf("initializing card cipher: %w", err)
	}
	value, err := aead.Open(nil, blob[:cardNonceSize], blob[cardNonceSize:cardNonceSize+sealedCardSize], nil)
	if err != nil {
		return 0, fmt.Errorf("opening card: %w", err)
	}
	return value[0], nil
}

func sealResult(key []byte, isMatch bool) (shared.Ciphertext, shared.ResultNonce, error) {
	var blob shared.Ciphertext
	var nonce shared.ResultNonce
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return blob, nonce, fmt.Errorf("initializing result cipher: %w", err)
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return blob, nonce, fmt.Errorf("generating result nonce: %w", err)
	}
	indicator := byte(0)
	if isMatch {
		indicator = 1
	}
	copy(blob[:], aead.Seal(nil, nonce[:cardNonceSize], []byte{indicator}, nil))
	return blob, nonce, nil
}
