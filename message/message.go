// Copyright (C) 2025 dria-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package message implements the signed wire envelope carried over gossip
// and request-response, together with the protocol descriptor and semantic
// version rules that gate peer interoperability.
package message

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/dria-x-project/dkn/crypto"
)

var (
	// ErrProtocolMismatch is returned when an envelope belongs to a different protocol family.
	ErrProtocolMismatch = errors.New("message protocol mismatch")
	// ErrVersionMismatch is returned when an envelope's version is incompatible with ours.
	ErrVersionMismatch = errors.New("message version incompatible")
)

// HexSignature is an R||S signature serialized as 128 hex characters.
type HexSignature []byte

// MarshalJSON encodes the signature as a hex string.
func (s HexSignature) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s))
}

// UnmarshalJSON decodes the signature from a hex string.
func (s *HexSignature) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	raw, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("signature is not valid hex: %w", err)
	}
	*s = raw
	return nil
}

// DriaMessage is the signed, versioned wire envelope.
//
// The signature is a recoverable secp256k1 ECDSA signature over the SHA-256
// digest of the base64 payload string, exactly as it appears on the wire, so
// a verifier only needs the allow-list of trusted public keys.
type DriaMessage struct {
	// Payload is the base64 encoded message body.
	Payload string `json:"payload"`
	// Topic is the gossip topic the message belongs to.
	Topic string `json:"topic"`
	// Protocol is the protocol family name, e.g. "dria".
	Protocol string `json:"protocol"`
	// Version is the sender's protocol version.
	Version SemanticVersion `json:"version"`
	// Timestamp records when the envelope was created, in UTC.
	Timestamp time.Time `json:"timestamp"`
	// Signature is the 64-byte R||S signature.
	Signature HexSignature `json:"signature"`
	// RecoveryID allows recovering the signer's public key from the signature.
	RecoveryID uint8 `json:"recovery_id"`
}

// NewSigned creates an envelope carrying the given payload, signing the
// SHA-256 of its base64 form with the node's wallet key.
func NewSigned(payload []byte, topic string, protocol Protocol, key *secp256k1.PrivateKey) DriaMessage {
	encoded := base64.StdEncoding.EncodeToString(payload)
	signature, recoveryID := crypto.SignRecoverable(crypto.Sha256([]byte(encoded)), key)

	return DriaMessage{
		Payload:    encoded,
		Topic:      topic,
		Protocol:   protocol.Name,
		Version:    protocol.Version,
		Timestamp:  time.Now().UTC(),
		Signature:  signature,
		RecoveryID: recoveryID,
	}
}

// FromBytesChecked decodes an envelope and enforces the protocol-name and
// version gates before anyone inspects the payload.
func FromBytesChecked(data []byte, expectedProtocol string, ownVersion SemanticVersion) (DriaMessage, error) {
	var msg DriaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return DriaMessage{}, fmt.Errorf("could not parse message: %w", err)
	}

	if msg.Protocol != expectedProtocol {
		return DriaMessage{}, fmt.Errorf("%w: got %q, expected %q", ErrProtocolMismatch, msg.Protocol, expectedProtocol)
	}
	if !msg.Version.IsCompatible(ownVersion) {
		return DriaMessage{}, fmt.Errorf("%w: got %s, own %s", ErrVersionMismatch, msg.Version, ownVersion)
	}

	return msg, nil
}

// Bytes returns the JSON wire form of the envelope.
func (m DriaMessage) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// DecodePayload decodes the base64 payload into bytes.
func (m DriaMessage) DecodePayload() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Payload)
}

// ParsePayload decodes the payload and unmarshals it into v.
func (m DriaMessage) ParsePayload(v any) error {
	payload, err := m.DecodePayload()
	if err != nil {
		return fmt.Errorf("could not decode payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("could not parse payload: %w", err)
	}
	return nil
}

// Verify recovers the signer from the signature and reports whether it is
// one of the allowed public keys.
func (m DriaMessage) Verify(allowed []*secp256k1.PublicKey) (bool, error) {
	if m.RecoveryID > 3 {
		return false, fmt.Errorf("recovery id %d out of range", m.RecoveryID)
	}

	signer, err := crypto.RecoverPublicKey(crypto.Sha256([]byte(m.Payload)), m.Signature, m.RecoveryID)
	if err != nil {
		return false, err
	}

	for _, key := range allowed {
		if signer.IsEqual(key) {
			return true, nil
		}
	}
	return false, nil
}

func (m DriaMessage) String() string {
	return fmt.Sprintf("%s message at %s (%d bytes)", m.Topic, m.Timestamp.Format(time.RFC3339), len(m.Payload))
}
