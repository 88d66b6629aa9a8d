// Package seal agrees a symmetric key from two curve25519 public keys and seals short
// payloads with XChaCha20-Poly1305.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize = curve25519.PointSize
	// Overhead is nonce plus tag added to every sealed payload.
	Overhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
)

var (
	ErrPeerKey = errors.New("seal: invalid peer public key")
	ErrOpen    = errors.New("seal: message authentication failed")
	ErrShort   = errors.New("seal: sealed payload too short")
)

var kdfInfo = []byte("beacon seal v1")

type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

func GenerateKeyPair() (KeyPair, error) {
	return newKeyPair(rand.Reader)
}

func newKeyPair(r io.Reader) (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(r, kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("seal: read private key: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("seal: derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedKey derives the session key both ends compute from their own private key and the
// peer's public key.
func (kp KeyPair) SharedKey(peer []byte) ([]byte, error) {
	if len(peer) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPeerKey, len(peer))
	}
	secret, err := curve25519.X25519(kp.Private[:], peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerKey, err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, kdfInfo), key); err != nil {
		return nil, fmt.Errorf("seal: expand key: %w", err)
	}
	return key, nil
}

// Seal returns nonce || ciphertext. ad is authenticated but not encrypted.
func Seal(key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return aead.Seal(out, out, plaintext, ad), nil
}

func Open(key, sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrShort, len(sealed))
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	out, err := aead.Open(nil, nonce, body, ad)
	if err != nil {
		return nil, ErrOpen
	}
	return out, nil
}
