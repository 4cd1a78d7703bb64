package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/aws/aws-lambda-go/events"

	"github.com/efss/wopihost/internal/storage"
	"github.com/efss/wopihost/internal/wopi"
)

// OpenHandler implements /wopi/iop/openinapp: it mints the access token
// that authorizes all later WOPI calls for one file/user/session.
type OpenHandler struct {
	iopSecret string
	tokens    *wopi.TokenManager
	log       *slog.Logger
}

// NewOpenHandler creates an OpenHandler. iopSecret is the inter-service
// bearer secret protecting the endpoint, as it gives access to any
// user's files.
func NewOpenHandler(iopSecret string, tokens *wopi.TokenManager, log *slog.Logger) *OpenHandler {
	return &OpenHandler{iopSecret: iopSecret, tokens: tokens, log: log.With("component", "open")}
}

// OpenInApp handles GET /wopi/iop/openinapp. Required: a bearer secret in
// Authorization, a TokenHeader user identity, and fileid/viewmode/appname
// query arguments. It returns the app URL and the access token to be
// posted as a form parameter.
func (h *OpenHandler) OpenInApp(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if !checkBearer(req, h.iopSecret) {
		h.log.Warn("openinapp: unauthorized access attempt, missing authorization token")
		return unauthorizedResponse(), nil
	}
	userID := getHeader(req, "TokenHeader")
	if userID == "" {
		h.log.Warn("openinapp: invalid or missing user identity in request")
		return unauthorizedResponse(), nil
	}
	args := req.QueryStringParameters
	fileID := args["fileid"]
	if fileID == "" {
		h.log.Warn("openinapp: fileid must be provided")
		return textResponse(http.StatusBadRequest, "Missing fileid argument"), nil
	}
	mode, err := wopi.ParseViewMode(args["viewmode"])
	if err != nil {
		h.log.Warn("openinapp: invalid viewmode parameter", "viewmode", args["viewmode"], "error", err)
		return textResponse(http.StatusBadRequest, "Missing or invalid viewmode argument"), nil
	}
	folderURL := unquote(args["folderurl"], "/")
	endpoint := args["endpoint"]
	if endpoint == "" {
		endpoint = "default"
	}
	app := wopi.AppInfo{
		Name:    unquote(args["appname"], ""),
		EditURL: unquote(args["appurl"], ""),
		ViewURL: unquote(args["appviewurl"], ""),
	}
	if app.Name == "" {
		h.log.Warn("openinapp: appname must be provided")
		return textResponse(http.StatusBadRequest, "Missing appname argument"), nil
	}
	if app.ViewURL == "" {
		app.ViewURL = app.EditURL
	}
	user := wopi.UserInfo{UserName: args["username"], WopiUser: args["wopiuser"]}

	inode, token, err := h.tokens.Issue(ctx, userID, fileID, mode, user, folderURL, endpoint, &app)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, wopi.ErrAppNotRegistered) {
			h.log.Info("openinapp: remote error on generating token",
				"user", wopi.Truncate(userID), "mode", string(mode), "endpoint", endpoint, "error", err)
			return textResponse(http.StatusNotFound, "Remote error, file not found or file is a directory"), nil
		}
		h.log.Error("openinapp: unable to generate token", "user", wopi.Truncate(userID), "error", err)
		return internalErrorResponse(), nil
	}

	appURL := app.EditURL
	if mode != wopi.ViewModeReadWrite {
		appURL = app.ViewURL
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"app-url":         appURL + "&WOPISrc=" + h.tokens.WopiSrc(inode),
		"form-parameters": map[string]string{"access_token": token},
	}), nil
}

// unquote URL-decodes an argument, returning def when absent.
func unquote(s, def string) string {
	if s == "" {
		return def
	}
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}
