// Package signer holds the agent's signing identity. The local
// implementation keeps a raw private key in process memory; it exists as a
// seam until a remote signing service replaces it.
package signer

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
)

// LocalSigner derives the agent address from a hex-encoded private key.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

// NewLocalSigner parses the hex private key (with or without 0x prefix).
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	if hexKey == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "signer private key is empty")
	}
	if len(hexKey) > 1 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "parse signer private key")
	}
	return &LocalSigner{key: key}, nil
}

// Address returns the account derived from the signing key.
func (s *LocalSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SigningKey exposes the raw key for the executor collaborators.
// TODO: replace with a remote-signing handle once the KMS integration lands.
func (s *LocalSigner) SigningKey() *ecdsa.PrivateKey {
	return s.key
}
