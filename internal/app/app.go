// Package app wires the application dependencies once at process start
// and routes API Gateway requests to the WOPI handlers.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/efss/wopihost/internal/auth"
	"github.com/efss/wopihost/internal/crypto"
	"github.com/efss/wopihost/internal/handler"
	"github.com/efss/wopihost/internal/recovery"
	"github.com/efss/wopihost/internal/secret"
	"github.com/efss/wopihost/internal/storage"
	"github.com/efss/wopihost/internal/storage/drive"
	"github.com/efss/wopihost/internal/storage/dynamo"
	"github.com/efss/wopihost/internal/wopi"
)

// HybridProvider routes storage endpoints to their backing provider: the
// "drive" endpoint goes to Google Drive, everything else to DynamoDB.
type HybridProvider struct {
	driveProvider  storage.Provider
	dynamoProvider storage.Provider
}

func (h *HybridProvider) GetAdapter(ctx context.Context, endpoint, userID string) (storage.Adapter, error) {
	if endpoint == "drive" {
		return h.driveProvider.GetAdapter(ctx, endpoint, userID)
	}
	return h.dynamoProvider.GetAdapter(ctx, endpoint, userID)
}

// App holds the dependencies for the Lambda function.
type App struct {
	openHandler    *handler.OpenHandler
	filesHandler   *handler.FilesHandler
	interopHandler *handler.InteropHandler
	authHandler    *handler.AuthHandler
	log            *slog.Logger
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true")
	}
	return def
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context) *App {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	devMode := os.Getenv("DEV_MODE") == "true"

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	// DynamoDB client; a nil client switches the dynamo provider to its
	// in-memory mode
	var dynamoClient *dynamodb.Client
	if devMode {
		log.Info("using in-memory storage (DEV_MODE=true)")
	} else {
		dynamoClient = dynamodb.NewFromConfig(cfg)
	}

	var kmsService crypto.Encryptor
	if devMode {
		kmsService = crypto.NewMockEncryptor()
		log.Info("using MockEncryptor (DEV_MODE=true)")
	} else {
		kmsService = crypto.NewKMSService(kms.NewFromConfig(cfg),
			envOr("KMS_KEY_ID", "alias/wopihost-credentials-key"))
	}

	var resolver secret.Resolver
	if devMode {
		resolver = secret.NewEnvResolver()
		log.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(cfg))
	}

	wopiSecret, err := resolver.GetSecret(ctx, envOr("WOPI_SECRET_PARAM", "/wopihost/wopi-secret"))
	if err != nil {
		log.Warn("failed to resolve WOPI_SECRET", "error", err)
		wopiSecret = "default-dev-secret"
	}
	iopSecret, err := resolver.GetSecret(ctx, envOr("IOP_SECRET_PARAM", "/wopihost/iop-secret"))
	if err != nil {
		log.Warn("failed to resolve IOP_SECRET", "error", err)
		iopSecret = wopiSecret
	}
	driveClientSecret, err := resolver.GetSecret(ctx, envOr("DRIVE_CLIENT_SECRET_PARAM", "/wopihost/drive-client-secret"))
	if err != nil {
		log.Warn("failed to resolve DRIVE_CLIENT_SECRET", "error", err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     os.Getenv("DRIVE_CLIENT_ID"),
		ClientSecret: driveClientSecret,
		RedirectURL:  envOr("DRIVE_REDIRECT_URL", "http://localhost:8080/auth/callback"),
		Scopes:       []string{"https://www.googleapis.com/auth/drive"},
		Endpoint:     google.Endpoint,
	}
	credentials := auth.NewCredentialService(oauthConfig, dynamoClient,
		envOr("USER_CREDENTIALS_TABLE", "UserCredentials"), kmsService)

	dynamoProvider := dynamo.NewProvider(dynamoClient, envOr("WOPI_FILES_TABLE", "WopiFiles"))
	var provider storage.Provider = dynamoProvider
	if !devMode {
		provider = &HybridProvider{
			driveProvider:  drive.NewProvider(credentials),
			dynamoProvider: dynamoProvider,
		}
	}

	// app registry: JSON map of file extension to edit/view URLs
	apps := map[string]wopi.AppURLs{}
	if raw := os.Getenv("WOPI_APPS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &apps); err != nil {
			log.Warn("failed to parse WOPI_APPS", "error", err)
		}
	}

	wopiURL := envOr("WOPI_URL", "http://localhost:8080")
	tokens := wopi.NewTokenManager(wopiSecret, envSeconds("TOKEN_VALIDITY_SECONDS", 24*time.Hour),
		wopiURL, apps, provider, log)

	detector := wopi.NewForeignLockDetector(
		envBool("DETECT_EXTERNAL_LOCKS", true),
		strings.Split(envOr("NON_OFFICE_TYPES", ".md .zmd .txt .epd"), " "),
		log)
	retriever := wopi.NewLockRetriever(detector, log)
	smartUnlock := wopi.NewSmartUnlockPolicy(
		envBool("WOPI_SMART_UNLOCK", false),
		envSeconds("WOPI_LOCK_EXPIRATION_SECONDS", 30*time.Minute),
		log)
	recoveryStore := recovery.NewStore(envOr("RECOVERY_PATH", "/var/spool/wopirecovery"), log)

	return &App{
		openHandler: handler.NewOpenHandler(iopSecret, tokens, log),
		filesHandler: handler.NewFilesHandler(provider, tokens, retriever, smartUnlock,
			recoveryStore, envBool("WOPI_LOCK_STRICT_CHECK", false), log),
		interopHandler: handler.NewInteropHandler(iopSecret, provider, log),
		authHandler:    handler.NewAuthHandler(credentials, log),
		log:            log,
	}
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	app.log.Info("request", "method", method, "path", path)

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	if path == "/auth/login" && method == http.MethodGet {
		return app.must(app.authHandler.Login(ctx, req)), nil
	}
	if path == "/auth/callback" && method == http.MethodGet {
		return app.must(app.authHandler.Callback(ctx, req)), nil
	}
	if path == "/wopi/iop/openinapp" && method == http.MethodGet {
		return app.must(app.openHandler.OpenInApp(ctx, req)), nil
	}
	if path == "/wopi/iop/lock" && (method == http.MethodGet || method == http.MethodPost) {
		return app.must(app.interopHandler.Lock(ctx, req)), nil
	}
	if path == "/wopi/iop/unlock" && method == http.MethodPost {
		return app.must(app.interopHandler.Unlock(ctx, req)), nil
	}

	if strings.HasPrefix(path, "/wopi/files/") {
		rest := strings.TrimPrefix(path, "/wopi/files/")
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		req.PathParameters["fileid"] = parts[0]
		contents := len(parts) == 2 && parts[1] == "contents"
		switch {
		case !contents && method == http.MethodGet:
			return app.must(app.filesHandler.CheckFileInfo(ctx, req)), nil
		case !contents && method == http.MethodPost:
			return app.must(app.filesHandler.PostFile(ctx, req)), nil
		case contents && method == http.MethodGet:
			return app.must(app.filesHandler.GetFile(ctx, req)), nil
		case contents && method == http.MethodPost:
			return app.must(app.filesHandler.PutFile(ctx, req)), nil
		}
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}, nil
}

// must unwraps a handler response, converting an unexpected error into a
// plain 500.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.log.Error("handler error", "error", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       "Internal error, please contact support",
		}
	}
	return resp
}
