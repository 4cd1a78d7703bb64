package model

import "time"

// UserCredential holds the per-user Google Drive credentials used by the
// drive storage provider. The refresh token is encrypted at rest with the
// configured crypto.Encryptor.
type UserCredential struct {
	UserID                string    `json:"user_id" dynamodbav:"user_id"`
	EncryptedRefreshToken string    `json:"encrypted_refresh_token" dynamodbav:"encrypted_refresh_token"`
	BaseFolderID          string    `json:"base_folder_id" dynamodbav:"base_folder_id"` // Drive folder the WOPI targets live under
	UpdatedAt             time.Time `json:"updated_at" dynamodbav:"updated_at"`
}
