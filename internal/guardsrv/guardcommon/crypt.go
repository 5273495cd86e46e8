package guardcommon

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Sealed blob layout: [version(1)][salt(16)][nonce(12)][ciphertext].
// The version is bumped if the KDF parameters ever change, so older
// blobs stay decryptable.
const (
	sealVersion = 0x01

	sealSaltLen  = 16
	sealNonceLen = 12

	kdfTime    = 3
	kdfMemory  = 64 * 1024 // KiB
	kdfThreads = 4
	kdfKeyLen  = 32
)

// aeadFor derives an AES-GCM sealer from the passphrase and salt via
// argon2id. The derived key never leaves this function.
func aeadFor(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals data under a passphrase. Used to protect signing key
// material at rest.
func Encrypt(data []byte, passphrase string) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("nothing to encrypt")
	}

	header := make([]byte, 1+sealSaltLen+sealNonceLen)
	header[0] = sealVersion
	if _, err := rand.Read(header[1:]); err != nil {
		return nil, fmt.Errorf("generating salt and nonce: %w", err)
	}
	salt := header[1 : 1+sealSaltLen]
	nonce := header[1+sealSaltLen:]

	aead, err := aeadFor(passphrase, salt)
	if err != nil {
		return nil, err
	}

	return aead.Seal(header, nonce, data, nil), nil
}

// Decrypt opens a blob sealed by Encrypt.
func Decrypt(blob []byte, passphrase string) ([]byte, error) {
	headerLen := 1 + sealSaltLen + sealNonceLen
	if len(blob) <= headerLen {
		return nil, fmt.Errorf("sealed blob truncated: %d bytes", len(blob))
	}
	if blob[0] != sealVersion {
		return nil, fmt.Errorf("unsupported seal version: %d", blob[0])
	}

	salt := blob[1 : 1+sealSaltLen]
	nonce := blob[1+sealSaltLen : headerLen]

	aead, err := aeadFor(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, blob[headerLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("unable to open sealed blob: %w", err)
	}
	return plaintext, nil
}
