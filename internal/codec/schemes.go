package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func sealAEAD(version int, key, plaintext []byte) (Envelope, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}
	return newEnvelope(version, aead.Seal(nil, nonce, plaintext, nil), nonce), nil
}

func openAEAD(key []byte, env Envelope) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	ct, err := env.ciphertext()
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := env.nonce()
	if err != nil || len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("malformed nonce")
	}
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("open aead: %w", err)
	}
	return plaintext, nil
}

// Legacy shared scheme: SHA-256 of the raw shared secret keys AES-256-CBC.
// Kept only so payloads written by old builds stay readable; new payloads
// prefer the AEAD scheme.
func sealLegacy(key, plaintext []byte) (Envelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("init cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("generate iv: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return newEnvelope(versionLegacyShared, ct, iv), nil
}

func openLegacy(key []byte, env Envelope) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	ct, err := env.ciphertext()
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("malformed ciphertext")
	}
	iv, err := env.nonce()
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("malformed iv")
	}
	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)
	return pkcs7Unpad(padded, aes.BlockSize)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("malformed padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("malformed padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("malformed padding")
		}
	}
	return b[:len(b)-n], nil
}
