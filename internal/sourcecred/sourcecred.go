// Package sourcecred provides at-rest protection for VideoSource RTSP/ONVIF
// credentials. Callers store the Protected form that Wrap returns; the
// ConfigStore adapters do not call Wrap themselves. Under Wrap,
// each VideoSource gets its own Data Encryption Key, itself wrapped by the
// process's active master key, AAD-bound to the owning cameraId so a
// ciphertext from one source can never be unwrapped under another's
// identity. Uses an envelope scheme: a per-source Data Encryption Key wrapped by a
// rotatable master key, both AES-256-GCM, AAD-bound to the owning camera id
// so a ciphertext from one source can never be unwrapped under another's
// identity.
package sourcecred

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edgevision/aibox/internal/model"
)

var (
	ErrInvalidKeySize = errors.New("sourcecred: invalid key size, must be 32 bytes for AES-256")
	ErrDecryption     = errors.New("sourcecred: decryption failed: invalid key, tag, or context")
	ErrKeyNotFound    = errors.New("sourcecred: master key not found")
	ErrNoActiveKey    = errors.New("sourcecred: no active master key configured")
)

// aadFor binds a wrapped credential to its owning cameraId so a ciphertext
// can never be unwrapped under a different source's identity.
func aadFor(cameraID string) []byte {
	return []byte(fmt.Sprintf("%s:videosource_v1", cameraID))
}

// Protected is the at-rest form of a VideoSource's Credentials: a DEK
// wrapped under the named master key, plus the DEK-encrypted credential
// bytes. Safe to persist via ConfigStore.
type Protected struct {
	MasterKID    string
	DEKNonce     []byte
	DEKCiphertext []byte
	DEKTag       []byte

	CredNonce      []byte
	CredCiphertext []byte
	CredTag        []byte
}

// KeyManager holds the process's master keys, loaded once at boot.
type KeyManager struct {
	keys      map[string][]byte
	activeKID string
}

// NewKeyManager returns an empty KeyManager; call LoadFromEnv before use.
func NewKeyManager() *KeyManager {
	return &KeyManager{keys: make(map[string][]byte)}
}

type masterKeyEnv struct {
	KID      string `json:"kid"`
	Material string `json:"material"` // base64, 32 bytes decoded
}

// LoadFromEnv reads SOURCECRED_MASTER_KEYS (JSON array of {kid, material})
// and SOURCECRED_ACTIVE_KID.
func (k *KeyManager) LoadFromEnv() error {
	keysJSON := os.Getenv("SOURCECRED_MASTER_KEYS")
	activeKID := os.Getenv("SOURCECRED_ACTIVE_KID")
	if keysJSON == "" {
		return errors.New("sourcecred: SOURCECRED_MASTER_KEYS is empty")
	}
	if activeKID == "" {
		return errors.New("sourcecred: SOURCECRED_ACTIVE_KID is empty")
	}

	var raw []masterKeyEnv
	if err := json.Unmarshal([]byte(keysJSON), &raw); err != nil {
		return fmt.Errorf("sourcecred: parse SOURCECRED_MASTER_KEYS: %w", err)
	}

	keys := make(map[string][]byte, len(raw))
	for _, rk := range raw {
		if rk.KID == "" {
			return errors.New("sourcecred: master key with empty kid")
		}
		if _, dup := keys[rk.KID]; dup {
			return fmt.Errorf("sourcecred: duplicate master key kid %q", rk.KID)
		}
		decoded, err := base64.StdEncoding.DecodeString(rk.Material)
		if err != nil {
			return fmt.Errorf("sourcecred: invalid base64 for key %q: %w", rk.KID, err)
		}
		if len(decoded) != 32 {
			return fmt.Errorf("sourcecred: key %q must be 32 bytes, got %d", rk.KID, len(decoded))
		}
		keys[rk.KID] = decoded
	}
	if _, ok := keys[activeKID]; !ok {
		return fmt.Errorf("sourcecred: active kid %q not present in SOURCECRED_MASTER_KEYS", activeKID)
	}

	k.keys = keys
	k.activeKID = activeKID
	return nil
}

// LoadStatic installs an explicit key set, bypassing the environment — used
// by tests and by deployments that provision keys through ConfigStore
// instead of process env vars.
func (k *KeyManager) LoadStatic(keys map[string][]byte, activeKID string) error {
	for kid, key := range keys {
		if len(key) != 32 {
			return fmt.Errorf("sourcecred: key %q must be 32 bytes, got %d", kid, len(key))
		}
	}
	if _, ok := keys[activeKID]; !ok {
		return fmt.Errorf("sourcecred: active kid %q not present", activeKID)
	}
	k.keys = keys
	k.activeKID = activeKID
	return nil
}

func encryptGCM(key, plaintext, aad []byte) (nonce, ciphertext, tag []byte, err error) {
	if len(key) != 32 {
		return nil, nil, nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, err
	}
	full := gcm.Seal(nil, nonce, plaintext, aad)
	tagSize := gcm.Overhead()
	if len(full) < tagSize {
		return nil, nil, nil, errors.New("sourcecred: encrypt output too short")
	}
	return nonce, full[:len(full)-tagSize], full[len(full)-tagSize:], nil
}

func decryptGCM(key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errors.New("sourcecred: invalid nonce size")
	}
	full := make([]byte, len(ciphertext)+len(tag))
	copy(full, ciphertext)
	copy(full[len(ciphertext):], tag)
	plaintext, err := gcm.Open(nil, nonce, full, aad)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// Wrap envelope-encrypts creds for storage, binding the ciphertext to
// cameraID via AAD so it can only ever be unwrapped for that source.
func (k *KeyManager) Wrap(cameraID string, creds model.Credentials) (Protected, error) {
	if k.activeKID == "" {
		return Protected{}, ErrNoActiveKey
	}
	masterKey := k.keys[k.activeKID]

	dek := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return Protected{}, err
	}
	aad := aadFor(cameraID)

	dekNonce, dekCipher, dekTag, err := encryptGCM(masterKey, dek, aad)
	if err != nil {
		return Protected{}, err
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return Protected{}, err
	}
	credNonce, credCipher, credTag, err := encryptGCM(dek, plain, aad)
	if err != nil {
		return Protected{}, err
	}

	return Protected{
		MasterKID:      k.activeKID,
		DEKNonce:       dekNonce,
		DEKCiphertext:  dekCipher,
		DEKTag:         dekTag,
		CredNonce:      credNonce,
		CredCiphertext: credCipher,
		CredTag:        credTag,
	}, nil
}

// Unwrap decrypts a Protected value back to plaintext Credentials, using
// whichever master key wrapped it (not necessarily the currently-active
// one, so key rotation doesn't strand previously-wrapped sources).
func (k *KeyManager) Unwrap(cameraID string, p Protected) (model.Credentials, error) {
	masterKey, ok := k.keys[p.MasterKID]
	if !ok {
		return model.Credentials{}, ErrKeyNotFound
	}
	aad := aadFor(cameraID)

	dek, err := decryptGCM(masterKey, p.DEKNonce, p.DEKCiphertext, p.DEKTag, aad)
	if err != nil {
		return model.Credentials{}, err
	}

	plain, err := decryptGCM(dek, p.CredNonce, p.CredCiphertext, p.CredTag, aad)
	if err != nil {
		return model.Credentials{}, err
	}

	var creds model.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return model.Credentials{}, err
	}
	return creds, nil
}
