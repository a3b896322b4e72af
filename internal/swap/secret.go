package swap

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SecretHash binds a secret to the withdrawer allowed to reveal it:
// keccak256(abi.encodePacked(bytes32 secret, address withdrawer)).
func SecretHash(secret common.Hash, withdrawer common.Address) common.Hash {
	return crypto.Keccak256Hash(secret.Bytes(), withdrawer.Bytes())
}

// NewSecret returns a random 32-byte preimage.
func NewSecret() (common.Hash, error) {
	var s common.Hash
	if _, err := rand.Read(s[:]); err != nil {
		return common.Hash{}, fmt.Errorf("generate secret: %w", err)
	}
	return s, nil
}
