package shared

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/minio/sha256-simd" // simd optimized sha256 computation
)

// CardCount is the fixed number of cards in each slot of a board.
const CardCount = 16

// PlayerID identifies the participant that owns a round. It is the
// caller identity resolved by the hosting platform; the core trusts it
// as authoritative for ownership checks.
type PlayerID [32]byte

func (id PlayerID) String() string {
	return hex.EncodeToString(id[:])
}

// Ciphertext is one opaque encrypted card value. The core never
// decrypts ciphertexts; it only moves them between storage and the
// confidential-compute cluster.
type Ciphertext [32]byte

// VerifyKey is the owner's X25519 public key. The cluster re-encrypts
// match indicators back to this key.
type VerifyKey [32]byte

// BoardNonce is the non-secret auxiliary context fixed at round
// registration and forwarded with every verification request.
type BoardNonce [16]byte

// ResultNonce accompanies a re-encrypted match indicator.
type ResultNonce [16]byte

// RequestID tags one in-flight verification computation. It is
// caller-supplied and must be unique per outstanding request.
type RequestID uint64

// NonceHash condenses a nonce for the settlement record, which carries
// a commitment to the board context rather than the nonce itself.
func NonceHash(nonce []byte) [32]byte {
	return sha256.Sum256(nonce)
}

const roundKeyPrefix = "round/v1/"

// RoundKey derives the storage key of a round from its owner and the
// caller-supplied round id. Creation and lookup share the derivation,
// so no secondary index exists and a caller can only address rounds
// recorded under its own identity.
func RoundKey(owner PlayerID, roundID uint64) []byte {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], roundID)

	hasher := sha256.New()
	hasher.Write([]byte(roundKeyPrefix))
	hasher.Write(owner[:])
	hasher.Write(id[:])
	return hasher.Sum(nil)
}
