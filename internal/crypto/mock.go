package crypto

import (
	"context"
	"strings"
)

// devPrefix tags values "encrypted" by the MockEncryptor so they are
// recognizable in local tables and never mistaken for KMS ciphertext.
const devPrefix = "dev-cleartext:"

// MockEncryptor implements Encryptor for DEV_MODE, where no KMS key is
// available. Values are stored in the clear behind a marker prefix.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return devPrefix + plaintext, nil
}

func (m *MockEncryptor) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, devPrefix), nil
}
