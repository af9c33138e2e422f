// Package solana provides address validation for token contracts.
package solana

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// IsValidAddress reports whether s is a well-formed Solana address:
// base58 text decoding to exactly 32 bytes. Program derived addresses
// are intentionally accepted, so no curve check is applied here.
func IsValidAddress(s string) bool {
	if s == "" {
		return false
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// IsOnCurve reports whether the address decodes to a valid ed25519
// point. Wallet and mint accounts are on-curve; PDAs are not.
func IsOnCurve(s string) bool {
	decoded, err := base58.Decode(s)
	if err != nil || len(decoded) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}
