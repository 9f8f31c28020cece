package services

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
	"github.com/adpilot/adpilot-backend/internal/logger"
)

// CredentialService seals and opens stored platform credentials. Credentials
// live encrypted at rest (in job payloads and wherever else they are stored)
// and are only decrypted inside a worker immediately before the adapter call.
type CredentialService interface {
	Encrypt(creds adplatform.Credentials) (string, error)
	Decrypt(sealed string) (adplatform.Credentials, error)
}

type credentialService struct {
	log *logger.Logger
	key []byte
}

// NewCredentialService reads a 32-byte hex key from CREDENTIALS_KEY.
func NewCredentialService(baseLog *logger.Logger) (CredentialService, error) {
	raw := strings.TrimSpace(os.Getenv("CREDENTIALS_KEY"))
	if raw == "" {
		return nil, fmt.Errorf("missing CREDENTIALS_KEY")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("CREDENTIALS_KEY must be hex: %w", err)
	}
	return NewCredentialServiceWithKey(baseLog, key)
}

func NewCredentialServiceWithKey(baseLog *logger.Logger, key []byte) (CredentialService, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credentials key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &credentialService{
		log: baseLog.With("service", "CredentialService"),
		key: key,
	}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (s *credentialService) Encrypt(creds adplatform.Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *credentialService) Decrypt(sealed string) (adplatform.Credentials, error) {
	var creds adplatform.Credentials
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return creds, fmt.Errorf("sealed credentials are not base64: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return creds, err
	}
	if len(raw) < aead.NonceSize() {
		return creds, fmt.Errorf("sealed credentials too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return creds, fmt.Errorf("credentials decrypt failed: %w", err)
	}
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return creds, err
	}
	return creds, nil
}
