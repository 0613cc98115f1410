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

	"securehealth/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedData is the stored envelope for a PII field (patient names).
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

// EncryptionManager envelope-encrypts patient PII with KMS data keys.
// With KMS disabled (dev) it falls back to a per-purpose local key.
type EncryptionManager struct {
	kmsClient *kms.Client
	config    *config.Config
	localKeys sync.Map // purpose -> []byte
}

func NewEncryptionManager(cfg *config.Config, kmsClient *kms.Client) *EncryptionManager {
	return &EncryptionManager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

// GenerateDataKey produces a fresh DEK, from KMS when enabled.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context, keyPurpose string) (*DataKey, error) {
	if !em.config.KMS.Enabled || em.kmsClient == nil {
		return em.localDataKey(keyPurpose)
	}

	input := &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.config.KMS.KeyID,
	}, nil
}

// EncryptField encrypts a single field value under a fresh DEK.
func (em *EncryptionManager) EncryptField(ctx context.Context, value, purpose string) (*EncryptedData, error) {
	dek, err := em.GenerateDataKey(ctx, purpose)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext, err := aesGCMSeal(dek.Plaintext, []byte(value))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   base64.StdEncoding.EncodeToString(dek.Ciphertext),
		KeyID:          dek.KeyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField reverses EncryptField.
func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData, purpose string) (string, error) {
	encDEK, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: bad DEK encoding", ErrDecryptionFailed)
	}

	var dek []byte
	if !em.config.KMS.Enabled || em.kmsClient == nil {
		local, lerr := em.localDataKey(purpose)
		if lerr != nil {
			return "", lerr
		}
		dek = local.Plaintext
	} else {
		out, derr := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob: encDEK,
			KeyId:          aws.String(data.KeyID),
		})
		if derr != nil {
			return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, derr)
		}
		dek = out.Plaintext
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecryptionFailed)
	}

	plaintext, err := aesGCMOpen(dek, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// localDataKey returns a process-local DEK per purpose for dev runs. The
// "ciphertext" is the purpose tag so DecryptField can find the same key.
func (em *EncryptionManager) localDataKey(purpose string) (*DataKey, error) {
	if cached, ok := em.localKeys.Load(purpose); ok {
		return &DataKey{
			Plaintext:  cached.([]byte),
			Ciphertext: []byte("local:" + purpose),
			KeyID:      "local",
		}, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate local key: %w", err)
	}
	actual, _ := em.localKeys.LoadOrStore(purpose, key)

	return &DataKey{
		Plaintext:  actual.([]byte),
		Ciphertext: []byte("local:" + purpose),
		KeyID:      "local",
	}, nil
}

func aesGCMSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func aesGCMOpen(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
