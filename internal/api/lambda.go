package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// LambdaHandler serves API Gateway proxy requests.
type LambdaHandler struct {
	handler *Handler
	logger  *slog.Logger
}

// NewLambdaHandler creates a new Lambda API handler.
func NewLambdaHandler(handler *Handler, logger *slog.Logger) *LambdaHandler {
	return &LambdaHandler{handler: handler, logger: logger}
}

// Handle routes API Gateway requests to the appropriate handler.
func (l *LambdaHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	l.logger.Info("request received",
		"path", req.Path,
		"method", req.HTTPMethod)

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return proxyResponse(failure(http.StatusBadRequest, "invalid request body")), nil
		}
		body = decoded
	}

	return proxyResponse(l.handler.Dispatch(ctx, req.HTTPMethod, req.Path, body)), nil
}

func proxyResponse(resp Response) events.APIGatewayProxyResponse {
	bodyJSON, err := json.Marshal(resp.Body)
	if err != nil {
		slog.Error("failed to marshal response",
			"error", err,
			"status_code", resp.Status)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers: map[string]string{
				"Content-Type": "application/json",
			},
			Body: `{"error":"Internal Server Error","message":"failed to build response"}`,
		}
	}

	return events.APIGatewayProxyResponse{
		StatusCode: resp.Status,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(bodyJSON),
	}
}
