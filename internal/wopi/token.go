package wopi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/efss/wopihost/internal/storage"
)

// ErrAppNotRegistered is returned when no editor app URLs are registered
// for the file type of the requested file. This is a configuration error
// and aborts token issuance.
var ErrAppNotRegistered = errors.New("no app URLs registered for this file type")

// Claims is the payload of a WOPI access token: a signed, time-bounded
// capability authorizing one user/file/session triple. It is immutable
// once issued and never stored server side.
type Claims struct {
	UserID     string   `json:"userid"`
	WopiUser   string   `json:"wopiuser,omitempty"`
	FileName   string   `json:"filename"`
	UserName   string   `json:"username"`
	ViewMode   ViewMode `json:"viewmode"`
	FolderURL  string   `json:"folderurl"`
	Endpoint   string   `json:"endpoint"`
	AppName    string   `json:"appname"`
	AppEditURL string   `json:"appediturl"`
	AppViewURL string   `json:"appviewurl"`
	jwt.RegisteredClaims
}

// AppURLs holds the editor URLs registered for one file extension.
type AppURLs struct {
	Edit string `json:"edit"`
	View string `json:"view"`
}

// AppInfo identifies the editor application a token is minted for.
type AppInfo struct {
	Name    string
	EditURL string
	ViewURL string
}

// UserInfo carries the display name and the optional distinct WOPI user
// identity (for impersonated or shared editing).
type UserInfo struct {
	UserName string
	WopiUser string
}

// TokenManager issues and verifies WOPI access tokens.
type TokenManager struct {
	secret   []byte
	validity time.Duration
	wopiURL  string
	apps     map[string]AppURLs
	provider storage.Provider
	log      *slog.Logger
}

// NewTokenManager builds a TokenManager. apps maps lowercase file
// extensions (with leading dot) to registered editor URLs, used as a
// fallback when the caller supplies no app URLs.
func NewTokenManager(secret string, validity time.Duration, wopiURL string, apps map[string]AppURLs, provider storage.Provider, log *slog.Logger) *TokenManager {
	return &TokenManager{
		secret:   []byte(secret),
		validity: validity,
		wopiURL:  strings.TrimSuffix(wopiURL, "/"),
		apps:     apps,
		provider: provider,
		log:      log.With("component", "token"),
	}
}

// Issue generates an access token for a given file and user, and returns
// the file's version-invariant inode (serving as WOPI fileid) together
// with the signed token. The file must exist on the endpoint for the
// user, otherwise storage.ErrNotFound is propagated and no token is
// issued. When app carries no edit URL the registered app endpoints are
// filled in, so the caller sees the resolved URLs too.
func (m *TokenManager) Issue(ctx context.Context, userID, fileID string, mode ViewMode, user UserInfo, folderURL, endpoint string, app *AppInfo) (string, string, error) {
	st, err := m.provider.GetAdapter(ctx, endpoint, userID)
	if err != nil {
		return "", "", fmt.Errorf("get adapter for endpoint %q: %w", endpoint, err)
	}
	info, err := st.Statx(ctx, fileID, true)
	if err != nil {
		m.log.Info("requested file not found or not a file", "fileid", fileID, "error", err)
		return "", "", err
	}
	if app.EditURL == "" {
		// work out the URLs from the registered app endpoints
		ext := strings.ToLower(path.Ext(info.FilePath))
		urls, ok := m.apps[ext]
		if !ok {
			m.log.Error("no app URLs registered for the given file type",
				"fileext", ext, "appscount", len(m.apps))
			return "", "", ErrAppNotRegistered
		}
		app.EditURL = urls.Edit
		app.ViewURL = urls.View
	}
	now := time.Now()
	expiration := now.Add(m.validity)
	claims := Claims{
		UserID:     userID,
		WopiUser:   user.WopiUser,
		FileName:   info.FilePath,
		UserName:   user.UserName,
		ViewMode:   mode,
		FolderURL:  folderURL,
		Endpoint:   endpoint,
		AppName:    app.Name,
		AppEditURL: app.EditURL,
		AppViewURL: app.ViewURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}
	m.log.Info("access token generated",
		"userid", Truncate(userID), "mode", string(mode), "endpoint", endpoint,
		"filename", info.FilePath, "inode", info.Inode, "mtime", info.MTime.Unix(),
		"folderurl", folderURL, "appname", app.Name,
		"expiration", expiration.Unix(), "token", Truncate(token))
	return info.Inode, token, nil
}

// Decode verifies a signed access token and returns its claims. It fails
// closed on signature mismatch or past expiration.
func (m *TokenManager) Decode(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// WopiSrc returns the URL-encoded WOPISrc for the given fileid.
func (m *TokenManager) WopiSrc(fileid string) string {
	src := url.QueryEscape(m.wopiURL + "/wopi/files/" + fileid)
	return strings.ReplaceAll(src, "-", "%2D")
}

// Truncate shortens an identity or token to its last 20 characters, for
// traceability in logs without exposing the full secret-bearing value.
func Truncate(s string) string {
	if len(s) <= 20 {
		return s
	}
	return s[len(s)-20:]
}
