package tlog

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
)

// Signer signs journal checkpoints.
type Signer interface {
	Name() string
	Sign([]byte) ([]byte, error)
	KeyHash() uint32
}

// Ed25519Signer implements Signer using Ed25519 keys
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	name       string
}

// NewEd25519Signer creates a new Ed25519 checkpoint signer
func NewEd25519Signer(privateKey ed25519.PrivateKey, name string) (*Ed25519Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)

	if name == "" {
		name = fmt.Sprintf("journal-%x", publicKey[:4])
	}

	return &Ed25519Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		name:       name,
	}, nil
}

func (s *Ed25519Signer) Name() string {
	return s.name
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.privateKey, data), nil
}

// KeyHash returns the key ID per the signed note format (c2sp.org/signed-note).
// The key ID is SHA256(name + "\n" + encoded_key)[:4] where encoded_key is
// the type byte (0x01 for Ed25519) followed by the public key bytes.
func (s *Ed25519Signer) KeyHash() uint32 {
	return keyHash(s.name, s.publicKey)
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

func keyHash(name string, pub ed25519.PublicKey) uint32 {
	encoded := append([]byte{0x01}, pub...)
	h := sha256.Sum256([]byte(name + "\n" + string(encoded)))
	return uint32(h[0])<<24 | uint32(h[1])<<16 | uint32(h[2])<<8 | uint32(h[3])
}
