package settings

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ibero-data/modgate/internal/store"
)

// Collection holds one document per setting key.
const Collection = "settings"

const (
	KeyJWTSecret         = "jwt_secret"
	KeyMaxMindAccountID  = "maxmind_account_id"
	KeyMaxMindLicenseKey = "maxmind_license_key"
	KeyGeoIPUpdatedAt    = "geoip_last_updated"
)

// Sensitive keys that should be encrypted
var sensitiveKeys = map[string]bool{
	KeyJWTSecret:         true,
	KeyMaxMindLicenseKey: true,
}

// Service manages application settings stored in the document store
type Service struct {
	store     store.Store
	cache     map[string]string
	cacheMu   sync.RWMutex
	masterKey []byte
}

// New creates a new settings service
func New(st store.Store) *Service {
	return &Service{
		store: st,
		cache: make(map[string]string),
	}
}

// SetMasterKey sets the encryption key for sensitive settings
func (s *Service) SetMasterKey(key string) {
	if key == "" {
		s.masterKey = nil
		return
	}
	hash := sha256.Sum256([]byte(key))
	s.masterKey = hash[:]
}

// Get retrieves a setting value. Missing keys return "".
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	s.cacheMu.RLock()
	if val, ok := s.cache[key]; ok {
		s.cacheMu.RUnlock()
		return val, nil
	}
	s.cacheMu.RUnlock()

	doc, err := s.store.Get(ctx, Collection, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}

	value := s.reveal(key, valueOf(doc))

	s.cacheMu.Lock()
	s.cache[key] = value
	s.cacheMu.Unlock()

	return value, nil
}

func valueOf(doc store.Document) string {
	v, _ := doc.Fields["value"].(string)
	return v
}

// reveal decrypts sensitive values. A value that fails to decrypt is
// returned as-is since it may predate the master key.
func (s *Service) reveal(key, value string) string {
	if sensitiveKeys[key] && value != "" && s.masterKey != nil {
		if decrypted, err := s.decrypt(value); err == nil {
			return decrypted
		}
	}
	return value
}

// GetWithDefault retrieves a setting value with a default fallback
func (s *Service) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	val, err := s.Get(ctx, key)
	if err != nil || val == "" {
		return defaultValue
	}
	return val
}

// Set stores a setting value
func (s *Service) Set(ctx context.Context, key, value string) error {
	storedValue := value
	if sensitiveKeys[key] && value != "" && s.masterKey != nil {
		encrypted, err := s.encrypt(value)
		if err != nil {
			return err
		}
		storedValue = encrypted
	}

	err := s.store.Set(ctx, Collection, key, store.Fields{
		"value":     storedValue,
		"updatedAt": store.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}

	// Update cache with decrypted value
	s.cacheMu.Lock()
	s.cache[key] = value
	s.cacheMu.Unlock()

	return nil
}

// SetMany stores multiple settings. Keys are written one at a time; the
// first failure stops the batch.
func (s *Service) SetMany(ctx context.Context, settings map[string]string) error {
	for key, value := range settings {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// GetAll retrieves all settings
func (s *Service) GetAll(ctx context.Context) (map[string]string, error) {
	docs, err := s.store.List(ctx, Collection, "updatedAt")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}

	settings := make(map[string]string, len(docs))
	for _, doc := range docs {
		settings[doc.ID] = s.reveal(doc.ID, valueOf(doc))
	}
	return settings, nil
}

// GetAllMasked returns all settings with sensitive values masked
func (s *Service) GetAllMasked(ctx context.Context) (map[string]string, error) {
	settings, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	for key := range settings {
		if sensitiveKeys[key] && settings[key] != "" {
			settings[key] = maskValue(settings[key])
		}
	}

	return settings, nil
}

// EnsureSecret returns the stored value for key, generating and persisting
// a random one when it is empty.
func (s *Service) EnsureSecret(ctx context.Context, key string) (string, error) {
	val, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if val != "" {
		return val, nil
	}
	val = GenerateSecretKey()
	if err := s.Set(ctx, key, val); err != nil {
		return "", err
	}
	return val, nil
}

// GenerateSecretKey generates a new random secret key
func GenerateSecretKey() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// encrypt encrypts a value using AES-GCM
func (s *Service) encrypt(plaintext string) (string, error) {
	if s.masterKey == nil {
		return plaintext, nil
	}

	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return "enc:" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a value using AES-GCM
func (s *Service) decrypt(ciphertext string) (string, error) {
	if s.masterKey == nil {
		return ciphertext, nil
	}

	// Check if value is encrypted (has enc: prefix)
	if !strings.HasPrefix(ciphertext, "enc:") {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, "enc:"))
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// maskValue masks a sensitive value for display
func maskValue(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}

// IsSensitive checks if a key is sensitive
func IsSensitive(key string) bool {
	return sensitiveKeys[key]
}
