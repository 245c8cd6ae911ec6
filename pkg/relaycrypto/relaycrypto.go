// Package relaycrypto implements the symmetric payload sealing used on relay
// topics: AES-256-CBC with a random IV, authenticated by HMAC-SHA256 over
// ciphertext||iv. Encryption rules follow the WalletConnect legacy client:
// https://github.com/WalletConnect/walletconnect-monorepo/blob/6d440e7/legacy/client/src/crypto.ts
package relaycrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"moff.io/wallet-bridge/pkg/errors"
)

// Envelope is the sealed payload published on a relay topic. All fields are
// hex-encoded.
type Envelope struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

// Seal encrypts plaintext under key and signs it.
func Seal(plaintext, key []byte) (*Envelope, error) {
	iv, err := GenerateRandomBytes(128 / 8)
	if err != nil {
		return nil, errors.Wrap(err, "generate iv")
	}
	data, err := aes256Encrypt(plaintext, key, iv)
	if err != nil {
		return nil, err
	}
	unsigned := append(data, iv...)
	mac := hmacSha256(unsigned, key)
	return &Envelope{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		Hmac: hex.EncodeToString(mac),
	}, nil
}

// Open verifies the envelope hmac and decrypts the payload.
func Open(env *Envelope, key []byte) ([]byte, error) {
	iv, err := hex.DecodeString(env.IV)
	if err != nil {
		return nil, errors.Wrap(err, "decode iv hex")
	}
	data, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode cipher hex")
	}
	unsigned := append([]byte{}, data...)
	unsigned = append(unsigned, iv...)
	mac := hmacSha256(unsigned, key)
	if hex.EncodeToString(mac) != env.Hmac {
		return nil, errors.New("inconsistent envelope hmac")
	}
	return aes256Decrypt(data, key, iv)
}

func aes256Encrypt(content, encryptionKey, iv []byte) ([]byte, error) {
	bPlaintext := pkcs5Padding(content, aes.BlockSize)
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	ciphertext := make([]byte, len(bPlaintext))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, bPlaintext)
	return ciphertext, nil
}

func aes256Decrypt(cipherText []byte, encryptionKey []byte, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	if len(cipherText)%aes.BlockSize != 0 {
		return nil, errors.New("cipher text not block aligned")
	}
	plain := make([]byte, len(cipherText))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plain, cipherText)
	return pkcs5Unpadding(plain)
}

func pkcs5Padding(cipherText []byte, blockSize int) []byte {
	padding := blockSize - len(cipherText)%blockSize
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(cipherText, padText...)
}

func pkcs5Unpadding(plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return nil, errors.New("empty plaintext")
	}
	padding := int(plain[len(plain)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(plain) {
		return nil, errors.New("invalid pkcs5 padding")
	}
	return plain[:len(plain)-padding], nil
}

// GenerateRandomBytes returns n cryptographically random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func hmacSha256(data, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return h.Sum(nil)
}
