package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Encrypt seals plaintext using NaCl SecretBox (XSalsa20-Poly1305).
// Format: [nonce (24 bytes)][ciphertext + auth tag].
func Encrypt(plaintext []byte, secret *[32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nil, plaintext, &nonce, secret)

	result := make([]byte, 24+len(sealed))
	copy(result[0:24], nonce[:])
	copy(result[24:], sealed)
	return result, nil
}

// Decrypt opens a SecretBox payload produced by Encrypt.
func Decrypt(encrypted []byte, secret *[32]byte) ([]byte, error) {
	if len(encrypted) < 24 {
		return nil, fmt.Errorf("encrypted data too short")
	}

	var nonce [24]byte
	copy(nonce[:], encrypted[0:24])

	plaintext, ok := secretbox.Open(nil, encrypted[24:], &nonce, secret)
	if !ok {
		return nil, fmt.Errorf("decryption failed")
	}
	return plaintext, nil
}
