package chain

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	addressLen   = 32
	signatureLen = 64
)

// ValidateAddress checks that s is a base58-encoded 32-byte public key.
func ValidateAddress(s string) error {
	return validateBase58(s, addressLen, "address")
}

// ValidateSignature checks that s is a base58-encoded 64-byte transaction signature.
func ValidateSignature(s string) error {
	return validateBase58(s, signatureLen, "signature")
}

func validateBase58(s string, size int, what string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s required", what)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid %s encoding: %w", what, err)
	}
	if len(raw) != size {
		return fmt.Errorf("invalid %s length %d, want %d", what, len(raw), size)
	}
	return nil
}
