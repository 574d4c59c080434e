// Package crypto wraps the secp256k1 primitives used by the node: wallet key
// handling, recoverable ECDSA signatures over SHA-256 digests, and the
// Ethereum-style address derived from a public key.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// SignatureSize is the byte length of an R||S signature.
const SignatureSize = 64

// compactSigSize is the byte length of a compact signature (V||R||S).
const compactSigSize = 65

// compactSigMagicOffset is added to the recovery id in compact signatures.
const compactSigMagicOffset = 27

var (
	// ErrInvalidSecretKey is returned when the secret key material has the wrong size or value.
	ErrInvalidSecretKey = errors.New("invalid secp256k1 secret key")
	// ErrInvalidPublicKey is returned when a public key cannot be parsed.
	ErrInvalidPublicKey = errors.New("invalid secp256k1 public key")
	// ErrInvalidSignature is returned when a signature or recovery id is malformed.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Sha256 returns the SHA-256 digest of the given data.
func Sha256(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// ParseSecretKey parses a 32-byte hex encoded secp256k1 secret key.
// An all-zero key is a sentinel for "generate a random key".
func ParseSecretKey(hexKey string) (*secp256k1.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidSecretKey, len(raw))
	}

	allZero := true
	for _, b := range raw {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return secp256k1.GeneratePrivateKey()
	}

	key := secp256k1.PrivKeyFromBytes(raw)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("%w: key is not within curve order", ErrInvalidSecretKey)
	}
	return key, nil
}

// ParsePublicKey parses a 33-byte hex encoded compressed secp256k1 public key.
func ParsePublicKey(hexKey string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	key, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return key, nil
}

// SignRecoverable signs the given digest and returns the 64-byte R||S
// signature together with the recovery id.
func SignRecoverable(digest []byte, key *secp256k1.PrivateKey) (signature []byte, recoveryID byte) {
	compact := secpecdsa.SignCompact(key, digest, false)
	return compact[1:], compact[0] - compactSigMagicOffset
}

// RecoverPublicKey recovers the signer's public key from a 64-byte R||S
// signature and its recovery id over the given digest.
func RecoverPublicKey(digest, signature []byte, recoveryID byte) (*secp256k1.PublicKey, error) {
	if len(signature) != SignatureSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureSize, len(signature))
	}
	if recoveryID > 3 {
		return nil, fmt.Errorf("%w: recovery id %d out of range", ErrInvalidSignature, recoveryID)
	}

	compact := make([]byte, compactSigSize)
	compact[0] = recoveryID + compactSigMagicOffset
	copy(compact[1:], signature)

	key, _, err := secpecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return key, nil
}

// Address returns the 20-byte Ethereum-style address of a public key,
// the last 20 bytes of the Keccak-256 hash of the uncompressed key.
func Address(key *secp256k1.PublicKey) [20]byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(key.SerializeUncompressed()[1:]) // strip the 0x04 prefix
	digest := hasher.Sum(nil)

	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// PeerID returns the node's overlay peer identifier for a public key.
// The swarm derives its own identity from the same key material; this
// hex digest is what the node reports in diagnostics.
func PeerID(key *secp256k1.PublicKey) string {
	return hex.EncodeToString(Sha256(key.SerializeCompressed()))[:40]
}
