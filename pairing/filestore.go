package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	plist "howett.net/plist"
)

// FileStore persists one plist-encoded Record per device UUID under Dir
// (spec §6 pair record file format). When Key is non-empty the plist bytes
// are sealed at rest with ChaCha20-Poly1305, deriving the AEAD key from Key
// via HKDF the same way ios/tunnel/remotepairing.go derives session keys
// from a shared secret.
type FileStore struct {
	Dir string
	Key []byte
}

// NewFileStore creates a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string, key []byte) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("pairing: create store dir: %w", err)
	}
	return &FileStore{Dir: dir, Key: key}, nil
}

func (s *FileStore) path(uuid string) string {
	return filepath.Join(s.Dir, uuid+".plist")
}

// Load reads and decodes the Record for uuid, returning (Record{}, false,
// nil) if no record is stored yet.
func (s *FileStore) Load(uuid string) (Record, bool, error) {
	raw, err := os.ReadFile(s.path(uuid))
	if os.IsNotExist(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("pairing: read record: %w", err)
	}
	if len(s.Key) > 0 {
		raw, err = s.decrypt(raw)
		if err != nil {
			return Record{}, false, fmt.Errorf("pairing: decrypt record: %w", err)
		}
	}
	var record Record
	if _, err := plist.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("pairing: decode record: %w", err)
	}
	return record, true, nil
}

// Save encodes record as a plist and writes it to disk, encrypting it
// first if a Key was configured.
func (s *FileStore) Save(uuid string, record Record) error {
	raw, err := plist.Marshal(record, plist.XMLFormat)
	if err != nil {
		return fmt.Errorf("pairing: encode record: %w", err)
	}
	if len(s.Key) > 0 {
		raw, err = s.encrypt(raw)
		if err != nil {
			return fmt.Errorf("pairing: encrypt record: %w", err)
		}
	}
	return os.WriteFile(s.path(uuid), raw, 0600)
}

// aeadKey expands Key into a chacha20poly1305 key via HKDF-SHA256, the same
// construction ios/tunnel/remotepairing.go uses to turn a shared secret
// into per-direction session keys.
func (s *FileStore) aeadKey() ([]byte, error) {
	out := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.Key, nil, []byte("idevice-pair-record-at-rest")), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	key, err := s.aeadKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *FileStore) decrypt(data []byte) ([]byte, error) {
	key, err := s.aeadKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// Fingerprint is a debug-friendly stable identifier for a store's Key
// without exposing it, suitable for log lines.
func (s *FileStore) Fingerprint() string {
	sum := sha256.Sum256(s.Key)
	return hex.EncodeToString(sum[:4])
}
