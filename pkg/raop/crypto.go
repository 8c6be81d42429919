package raop

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"math/big"
)

// The AirPort Express RSA public key every RAOP sender wraps its
// session AES key with, spec.md §4.K's "hard-coded Apple public
// modulus" — carried over verbatim (modulus + exponent, both
// base64'd, no wire padding) from
// original_source/src/modules/rtp/raop_client.c's rsa_encrypt.
const (
	receiverModulusB64 = "59dE8qLieItsH1WgjrcFRKj6eUWqi+bGLOX1HL3U3GhC/j0Qg90u3sG/1CUtwC" +
		"5vOYvfDmFI6oSFXi5ELabWJmT2dKHzBJKa3k9ok+8t9ucRqMd6DZHJ2YCCLlDR" +
		"KSKv6kDqnw4UwPdpOMXziC/AMj3Z/lUVX1G7WSHCAWKf1zNS1eLvqr+boEjXuB" +
		"OitnZ/bDzPHrTOZz0Dew0uowxf/+sG+NCK3eQJVxqcaJ/vEHKIVd2M+5qL71yJ" +
		"Q+87X6oV3eaYvt3zWZYD6z5vYTcrtij2VZ9Zmni/UAaHqn9JdsBWLUEpVviYnh" +
		"imNVvYFZeCXg/IdTQ+x4IRdiXNv5hEew=="
	receiverExponentB64 = "AQAB"
)

func loadReceiverPublicKey() (*rsa.PublicKey, error) {
	n, err := base64.StdEncoding.DecodeString(receiverModulusB64)
	if err != nil {
		return nil, fmt.Errorf("raop: decode receiver modulus: %w", err)
	}
	e, err := base64.StdEncoding.DecodeString(receiverExponentB64)
	if err != nil {
		return nil, fmt.Errorf("raop: decode receiver exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

// generateSessionKey returns a fresh 16-byte AES-128 key and IV for
// one RAOP session.
func generateSessionKey() (key, iv []byte, err error) {
	key = make([]byte, 16)
	iv = make([]byte, 16)
	if _, err = rand.Read(key); err != nil {
		return nil, nil, err
	}
	if _, err = rand.Read(iv); err != nil {
		return nil, nil, err
	}
	return key, iv, nil
}

// encryptSessionKey wraps aesKey with RSAES-OAEP (SHA-1) under the
// receiver's published public key, spec.md §4.K's ANNOUNCE
// rsaaeskey field.
func encryptSessionKey(aesKey []byte) ([]byte, error) {
	pub, err := loadReceiverPublicKey()
	if err != nil {
		return nil, err
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, aesKey, nil)
}

// cbcEncryptInPlace encrypts buf (a whole number of 16-byte blocks;
// any trailing remainder is left untouched by the caller per spec.md
// §4.K: "any trailing bytes beyond the largest 16-byte multiple are
// transmitted in the clear") using AES-128-CBC with the given key/iv.
func cbcEncryptInPlace(key, iv, buf []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	n := len(buf) - len(buf)%aes.BlockSize
	if n == 0 {
		return nil
	}
	enc := cipher.NewCBCEncrypter(block, iv)
	enc.CryptBlocks(buf[:n], buf[:n])
	return nil
}
