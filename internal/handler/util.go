// Package handler implements the WOPI protocol endpoints plus the
// interoperability endpoints consumed by non-WOPI editors.
package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Canonical failure bodies surfaced to WOPI clients.
const (
	msgUnauthorized  = "Client not authorized"
	msgInvalidToken  = "Invalid access token"
	msgInternalError = "Internal error, please contact support"
)

// getHeader performs a case-insensitive header lookup.
func getHeader(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// accessToken extracts the WOPI access token, passed as a query string
// parameter on every protocol call.
func accessToken(req events.APIGatewayProxyRequest) string {
	return req.QueryStringParameters["access_token"]
}

// checkBearer verifies the inter-service shared secret on the
// operator-facing endpoints.
func checkBearer(req events.APIGatewayProxyRequest, secret string) bool {
	return getHeader(req, "Authorization") == "Bearer "+secret
}

// requestBody returns the raw request payload, decoding the base64 form
// used by the API Gateway proxy integration for binary bodies.
func requestBody(req events.APIGatewayProxyRequest) []byte {
	if req.IsBase64Encoded {
		if b, err := base64.StdEncoding.DecodeString(req.Body); err == nil {
			return b
		}
	}
	return []byte(req.Body)
}

func textResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}
}

func jsonResponse(status int, payload any) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(payload)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func unauthorizedResponse() events.APIGatewayProxyResponse {
	return textResponse(http.StatusUnauthorized, msgUnauthorized)
}

func invalidTokenResponse() events.APIGatewayProxyResponse {
	return textResponse(http.StatusUnauthorized, msgInvalidToken)
}

func internalErrorResponse() events.APIGatewayProxyResponse {
	return textResponse(http.StatusInternalServerError, msgInternalError)
}
