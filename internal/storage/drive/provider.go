package drive

import (
	"context"
	"fmt"

	"github.com/efss/wopihost/internal/auth"
	"github.com/efss/wopihost/internal/storage"
)

// Provider implements storage.Provider for Google Drive. The WOPI
// endpoint field is unused here: one Drive deployment serves a single
// endpoint, selected at configuration time.
type Provider struct {
	credentials *auth.CredentialService
}

// NewProvider creates a Google Drive provider.
func NewProvider(credentials *auth.CredentialService) *Provider {
	return &Provider{credentials: credentials}
}

// GetAdapter returns an Adapter bound to the given user's credentials.
func (p *Provider) GetAdapter(ctx context.Context, _, userID string) (storage.Adapter, error) {
	var baseFolderID string
	if cred, err := p.credentials.GetCredential(ctx, userID); err == nil {
		baseFolderID = cred.BaseFolderID
	}

	client, err := p.credentials.GetClient(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	adapter, err := NewAdapter(ctx, client, baseFolderID)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive adapter: %w", err)
	}

	return adapter, nil
}
