package wopi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// ConflictResponse generates and logs the HTTP 409 response returned when
// a lock or version conflict is detected. reason is either a plain message
// string or an already structured map; it is always normalized to a map
// before serialization. The response never mutates storage state.
func ConflictResponse(operation, retrievedLock, lock, oldLock, filename, tokenRef string, reason any, log *slog.Logger) events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode: http.StatusConflict,
		Headers: map[string]string{
			"Content-Type": "application/json",
			HeaderLock:     retrievedLock,
		},
	}
	message := "NA"
	if reason != nil {
		structured, ok := reason.(map[string]any)
		if !ok {
			if s, isString := reason.(string); isString {
				structured = map[string]any{"message": s}
			} else {
				structured = map[string]any{"message": "conflict"}
			}
		}
		if m, hasMessage := structured["message"].(string); hasMessage {
			message = m
			resp.Headers[HeaderLockFailureReason] = m
		}
		body, _ := json.Marshal(structured)
		resp.Body = string(body)
	}
	log.Warn("returning conflict",
		"lockop", operation, "filename", filename, "token", tokenRef,
		"lock", lock, "oldlock", oldLock, "retrievedlock", retrievedLock,
		"reason", message)
	return resp
}
