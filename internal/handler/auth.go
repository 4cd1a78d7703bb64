package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/efss/wopihost/internal/auth"
)

// AuthHandler implements the Google OAuth2 onboarding flow for the Drive
// storage endpoint: users authorize once and their refresh token is
// stored encrypted, keyed by the Google subject ID that later serves as
// the WOPI user identity on the "drive" endpoint.
type AuthHandler struct {
	credentials *auth.CredentialService
	log         *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(credentials *auth.CredentialService, log *slog.Logger) *AuthHandler {
	return &AuthHandler{credentials: credentials, log: log.With("component", "auth")}
}

// Login handles GET /auth/login, redirecting to the Google consent page.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	// TODO: carry a random state in a cookie to prevent CSRF
	url := h.credentials.GenerateAuthURL("state")
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers:    map[string]string{"Location": url},
	}, nil
}

// Callback handles GET /auth/callback: it exchanges the authorization
// code and stores the encrypted refresh token.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	code := req.QueryStringParameters["code"]
	if code == "" {
		return textResponse(http.StatusBadRequest, "Missing code"), nil
	}

	token, err := h.credentials.ExchangeCode(ctx, code)
	if err != nil {
		h.log.Error("code exchange failed", "error", err)
		return internalErrorResponse(), nil
	}

	svc, err := oauth2.NewService(ctx, option.WithTokenSource(h.credentials.Config().TokenSource(ctx, token)))
	if err != nil {
		h.log.Error("unable to build oauth2 service", "error", err)
		return internalErrorResponse(), nil
	}
	userinfo, err := svc.Userinfo.Get().Do()
	if err != nil {
		h.log.Error("unable to fetch user info", "error", err)
		return internalErrorResponse(), nil
	}

	if err := h.credentials.SaveCredential(ctx, userinfo.Id, token); err != nil {
		// e.g. no refresh token on a repeated consent, the stored one
		// stays valid
		h.log.Warn("unable to save credential", "user", userinfo.Id, "error", err)
	}

	h.log.Info("drive credential stored", "user", userinfo.Id)
	return jsonResponse(http.StatusOK, map[string]string{"userid": userinfo.Id}), nil
}
