package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"

	"sms-auth-service/internal/config"
	"sms-auth-service/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedData is the envelope stored for each encrypted field: the
// AES-GCM ciphertext plus the KMS-wrapped data key that protects it.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// Manager performs envelope encryption of phone numbers at rest. With
// KMS disabled (development) data keys are generated locally and the
// wrapped form is just the base64 of the key.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config
	keyCache  sync.Map // decrypted DEKs keyed by wrapped form
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

func (m *Manager) generateDataKey(ctx context.Context) (*DataKey, error) {
	if !m.config.KMS.Enabled {
		return m.generateLocalKey()
	}

	input := &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	}

	result, err := m.kmsClient.GenerateDataKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      m.config.KMS.KeyID,
	}, nil
}

func (m *Manager) generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32) // AES-256
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate local key: %w", err)
	}

	// Without KMS the "wrapped" form is the key itself. The envelope
	// base64-encodes it, so cold decryption recovers it unchanged.
	return &DataKey{
		Plaintext:  key,
		Ciphertext: key,
		KeyID:      uuid.New().String(),
	}, nil
}

// EncryptField seals a sensitive value under a fresh data key.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dataKey, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dataKey.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	wrapped := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	m.keyCache.Store(wrapped, dataKey.Plaintext)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   wrapped,
		KeyID:          dataKey.KeyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField opens an envelope produced by EncryptField.
func (m *Manager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if cached, ok := m.keyCache.Load(data.EncryptedDEK); ok {
		return m.decryptWithKey(data.EncryptedValue, cached.([]byte))
	}

	var plaintextDEK []byte
	if m.config.KMS.Enabled {
		ciphertextBlob, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
		}

		result, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob: ciphertextBlob,
		})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	} else {
		var err error
		plaintextDEK, err = base64.StdEncoding.DecodeString(data.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
		}
	}

	m.keyCache.Store(data.EncryptedDEK, plaintextDEK)

	return m.decryptWithKey(data.EncryptedValue, plaintextDEK)
}

func (m *Manager) decryptWithKey(encryptedValue string, key []byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// ClearCache drops all cached data keys.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
	util.Debug("encryption key cache cleared")
}
