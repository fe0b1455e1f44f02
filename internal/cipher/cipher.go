// Package cipher seals alert text for the audit trail.
package cipher

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pisafe/pisafe/internal/types"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion byte = 1
	keyIDSize            = 4
	headerSize           = 1 + keyIDSize + chacha20poly1305.NonceSizeX
)

var (
	// ErrNoKey is returned when the cipher is built without key material
	ErrNoKey = errors.New("no encryption key configured")
	// ErrKeySize is returned for keys that are not 32 bytes
	ErrKeySize = fmt.Errorf("encryption key must be %d bytes", chacha20poly1305.KeySize)
	// ErrKeyEncoding is returned by ParseKey for input that is not base64
	ErrKeyEncoding = errors.New("encryption key is not valid base64")
)

// DecryptionError is returned when a ciphertext cannot be opened
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "decryption failed: " + e.Reason
}

type key struct {
	id   [keyIDSize]byte
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// Cipher encrypts with the primary key and decrypts with any known key
type Cipher struct {
	mu   sync.RWMutex
	keys []key
	now  func() time.Time
}

// New creates a cipher; the first key is primary
func New(keys ...[]byte) (*Cipher, error) {
	if len(keys) == 0 {
		return nil, ErrNoKey
	}
	c := &Cipher{now: time.Now}
	for i := len(keys) - 1; i >= 0; i-- {
		if err := c.Rotate(keys[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ParseKey decodes a base64 key in the standard or URL alphabet, padded
// or not. Fernet keys have this form.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoKey
	}
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.StdEncoding, base64.RawURLEncoding, base64.RawStdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			if len(b) != chacha20poly1305.KeySize {
				return nil, fmt.Errorf("%w: got %d", ErrKeySize, len(b))
			}
			return b, nil
		}
	}
	return nil, ErrKeyEncoding
}

// Rotate installs a new primary key. Previous keys stay available for
// decryption.
func (c *Cipher) Rotate(raw []byte) error {
	if len(raw) == 0 {
		return ErrNoKey
	}
	aead, err := chacha20poly1305.NewX(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySize, err)
	}
	k := key{id: keyID(raw), aead: aead}

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := []key{k}
	for _, old := range c.keys {
		if old.id != k.id {
			keys = append(keys, old)
		}
	}
	c.keys = keys
	return nil
}

// KeyID returns the hex id of the primary key for logging
func (c *Cipher) KeyID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return hex.EncodeToString(c.keys[0].id[:])
}

// Encrypt seals text with the primary key. The creation time is bound as
// additional data so it cannot be altered without detection.
func (c *Cipher) Encrypt(plaintext string) (types.EncryptedAlert, error) {
	createdAt := c.now().UTC()

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return types.EncryptedAlert{}, fmt.Errorf("generate nonce: %w", err)
	}

	c.mu.RLock()
	k := c.keys[0]
	c.mu.RUnlock()

	out := make([]byte, 0, headerSize+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, envelopeVersion)
	out = append(out, k.id[:]...)
	out = append(out, nonce...)
	out = k.aead.Seal(out, nonce, []byte(plaintext), additionalData(createdAt))

	return types.EncryptedAlert{Ciphertext: out, CreatedAt: createdAt}, nil
}

// Decrypt opens a sealed alert. It never returns plaintext that failed
// authentication.
func (c *Cipher) Decrypt(alert types.EncryptedAlert) (string, error) {
	ct := alert.Ciphertext
	if len(ct) < headerSize+chacha20poly1305.Overhead {
		return "", &DecryptionError{Reason: "ciphertext truncated"}
	}
	if ct[0] != envelopeVersion {
		return "", &DecryptionError{Reason: fmt.Sprintf("unsupported envelope version %d", ct[0])}
	}
	id := ct[1 : 1+keyIDSize]
	nonce := ct[1+keyIDSize : headerSize]

	c.mu.RLock()
	var k *key
	for i := range c.keys {
		if bytes.Equal(c.keys[i].id[:], id) {
			k = &c.keys[i]
			break
		}
	}
	c.mu.RUnlock()

	if k == nil {
		return "", &DecryptionError{Reason: "unknown key " + hex.EncodeToString(id)}
	}
	pt, err := k.aead.Open(nil, nonce, ct[headerSize:], additionalData(alert.CreatedAt.UTC()))
	if err != nil {
		return "", &DecryptionError{Reason: "message authentication failed"}
	}
	return string(pt), nil
}

func additionalData(createdAt time.Time) []byte {
	ad := make([]byte, 9)
	ad[0] = envelopeVersion
	binary.BigEndian.PutUint64(ad[1:], uint64(createdAt.UnixNano()))
	return ad
}

func keyID(raw []byte) [keyIDSize]byte {
	sum := sha256.Sum256(raw)
	var id [keyIDSize]byte
	copy(id[:], sum[:keyIDSize])
	return id
}
