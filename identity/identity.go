// Package identity implements the 60-character base-26 identity codec
// used for Qubic addresses. The first 56 characters encode the 32-byte
// public key as four little-endian uint64 groups of 14 characters each;
// the last 4 characters are a KangarooTwelve checksum over the key.
package identity

import (
	"encoding/binary"
	"fmt"

	"github.com/cloudflare/circl/xof/k12"
)

const (
	// IdentityLength is the length of a textual identity
	IdentityLength = 60

	pubKeyLength   = 32
	bodyLength     = 56
	checksumLength = 4
	checksumMask   = 0x3FFFF
)

// BurnAddress is the identity of the all-zero public key. Transfers
// from it denote minting, transfers to it denote burning.
var BurnAddress = mustFromPublicKey(zeroKey())

// FromPublicKey derives the textual identity for a 32-byte public key
func FromPublicKey(pubKey []byte) (string, error) {
	if len(pubKey) != pubKeyLength {
		return "", fmt.Errorf("public key must be %d bytes, got %d", pubKeyLength, len(pubKey))
	}

	var id [IdentityLength]byte
	for i := 0; i < 4; i++ {
		v := binary.LittleEndian.Uint64(pubKey[i*8 : i*8+8])
		for j := 0; j < 14; j++ {
			id[i*14+j] = byte('A' + v%26)
			v /= 26
		}
	}

	cs := checksum(pubKey)
	for j := 0; j < checksumLength; j++ {
		id[bodyLength+j] = byte('A' + cs%26)
		cs /= 26
	}

	return string(id[:]), nil
}

// ToPublicKey recovers the 32-byte public key from a textual identity,
// verifying its checksum
func ToPublicKey(identity string) ([]byte, error) {
	if len(identity) != IdentityLength {
		return nil, fmt.Errorf("identity must be %d characters, got %d", IdentityLength, len(identity))
	}
	for i := 0; i < IdentityLength; i++ {
		if identity[i] < 'A' || identity[i] > 'Z' {
			return nil, fmt.Errorf("identity contains non-uppercase character at position %d", i)
		}
	}

	pubKey := make([]byte, pubKeyLength)
	for i := 0; i < 4; i++ {
		var v uint64
		for j := 13; j >= 0; j-- {
			v = v*26 + uint64(identity[i*14+j]-'A')
		}
		binary.LittleEndian.PutUint64(pubKey[i*8:i*8+8], v)
	}

	cs := checksum(pubKey)
	for j := 0; j < checksumLength; j++ {
		if identity[bodyLength+j] != byte('A'+cs%26) {
			return nil, fmt.Errorf("identity checksum mismatch")
		}
		cs /= 26
	}

	return pubKey, nil
}

// IsZero reports whether pubKey is the all-zero key backing the burn address
func IsZero(pubKey []byte) bool {
	for _, b := range pubKey {
		if b != 0 {
			return false
		}
	}
	return true
}

// checksum computes the 18-bit K12 checksum of a public key
func checksum(pubKey []byte) uint32 {
	var digest [3]byte
	h := k12.NewDraft10(nil)
	_, _ = h.Write(pubKey)
	_, _ = h.Read(digest[:])

	cs := uint32(digest[0]) | uint32(digest[1])<<8 | uint32(digest[2])<<16
	return cs & checksumMask
}

func zeroKey() []byte {
	return make([]byte, pubKeyLength)
}

func mustFromPublicKey(pubKey []byte) string {
	id, err := FromPublicKey(pubKey)
	if err != nil {
		panic(err)
	}
	return id
}
