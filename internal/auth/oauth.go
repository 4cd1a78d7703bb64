// Package auth manages the Google OAuth2 credentials backing the Drive
// storage endpoint: refresh tokens are KMS-encrypted at rest in DynamoDB
// and turned into authenticated HTTP clients on demand.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/oauth2"

	"github.com/efss/wopihost/internal/crypto"
	"github.com/efss/wopihost/internal/model"
)

// CredentialService handles OAuth2 flows and per-user credential storage.
type CredentialService struct {
	oauthConfig  *oauth2.Config
	dynamoClient *dynamodb.Client
	tableName    string
	kmsService   crypto.Encryptor

	// In-memory fallback when no DynamoDB client is configured
	creds map[string]model.UserCredential
	mu    sync.RWMutex
}

// NewCredentialService creates a CredentialService. The oauthConfig is
// constructed by the caller from environment variables; a nil dynamoClient
// selects the in-memory fallback.
func NewCredentialService(oauthConfig *oauth2.Config, dynamoClient *dynamodb.Client, tableName string, kmsService crypto.Encryptor) *CredentialService {
	return &CredentialService{
		oauthConfig:  oauthConfig,
		dynamoClient: dynamoClient,
		tableName:    tableName,
		kmsService:   kmsService,
		creds:        make(map[string]model.UserCredential),
	}
}

// Config returns the OAuth2 config.
func (s *CredentialService) Config() *oauth2.Config {
	return s.oauthConfig
}

// GenerateAuthURL returns the URL to redirect the user to for Google login.
func (s *CredentialService) GenerateAuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges the authorization code for an access token.
func (s *CredentialService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return s.oauthConfig.Exchange(ctx, code)
}

// SaveCredential encrypts the refresh token and stores it.
func (s *CredentialService) SaveCredential(ctx context.Context, userID string, token *oauth2.Token) error {
	if token.RefreshToken == "" {
		return fmt.Errorf("no refresh token in response")
	}

	encrypted, err := s.kmsService.Encrypt(ctx, token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	// Preserve an already-selected base folder across re-authorizations
	var baseFolderID string
	if existing, err := s.GetCredential(ctx, userID); err == nil {
		baseFolderID = existing.BaseFolderID
	}

	cred := model.UserCredential{
		UserID:                userID,
		EncryptedRefreshToken: encrypted,
		BaseFolderID:          baseFolderID,
		UpdatedAt:             time.Now(),
	}

	if s.dynamoClient == nil {
		s.mu.Lock()
		s.creds[userID] = cred
		s.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal user credential: %w", err)
	}

	_, err = s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save credential to DynamoDB: %w", err)
	}

	return nil
}

// GetCredential retrieves the stored credential for a user.
func (s *CredentialService) GetCredential(ctx context.Context, userID string) (*model.UserCredential, error) {
	var cred model.UserCredential

	if s.dynamoClient == nil {
		s.mu.RLock()
		c, ok := s.creds[userID]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("user not found")
		}
		cred = c
	} else {
		out, err := s.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"user_id": &types.AttributeValueMemberS{Value: userID},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
		}
		if out.Item == nil {
			return nil, fmt.Errorf("user not found")
		}

		err = attributevalue.UnmarshalMap(out.Item, &cred)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal user credential: %w", err)
		}
	}
	return &cred, nil
}

// UpdateBaseFolderID updates the base Drive folder for a user.
func (s *CredentialService) UpdateBaseFolderID(ctx context.Context, userID, folderID string) error {
	if s.dynamoClient == nil {
		s.mu.Lock()
		if c, ok := s.creds[userID]; ok {
			c.BaseFolderID = folderID
			s.creds[userID] = c
		}
		s.mu.Unlock()
		return nil
	}

	_, err := s.dynamoClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression: aws.String("SET base_folder_id = :fid, updated_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":fid": &types.AttributeValueMemberS{Value: folderID},
			":now": &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update base folder id: %w", err)
	}

	return nil
}

// GetClient returns an authenticated http.Client for the user.
func (s *CredentialService) GetClient(ctx context.Context, userID string) (*http.Client, error) {
	cred, err := s.GetCredential(ctx, userID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.kmsService.Decrypt(ctx, cred.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour), // Force refresh
	}

	tokenSource := s.oauthConfig.TokenSource(ctx, token)

	return oauth2.NewClient(ctx, tokenSource), nil
}
