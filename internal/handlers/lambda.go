package handlers

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/aws/aws-lambda-go/events"
)

const (
	routeRegister = "POST /auth/register"
	routeLogin    = "POST /auth/login"
)

// LambdaHandler serves the auth routes behind an API Gateway HTTP API
type LambdaHandler struct {
	auth *AuthHandler
}

// NewLambdaHandler creates a new LambdaHandler
func NewLambdaHandler(auth *AuthHandler) *LambdaHandler {
	return &LambdaHandler{auth: auth}
}

// Handle is the lambda.Start entry point
func (h *LambdaHandler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	info := models.RequestInfo{
		RequestID: req.RequestContext.RequestID,
		IPAddress: req.RequestContext.HTTP.SourceIP,
		UserAgent: req.RequestContext.HTTP.UserAgent,
	}

	var resp pkghttp.Response
	switch route := routeKey(req); route {
	case routeRegister, routeLogin:
		body, err := requestBody(req)
		if err != nil {
			resp = pkghttp.BadRequest("Invalid JSON payload", "")
			break
		}
		if route == routeRegister {
			resp = h.auth.HandleRegister(ctx, body, info)
		} else {
			resp = h.auth.HandleLogin(ctx, body, info)
		}
	default:
		resp = pkghttp.NotFound("Not found")
	}

	return events.APIGatewayV2HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
	}, nil
}

// requestBody returns the raw body, decoding it when API Gateway base64-encoded it
func requestBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// routeKey resolves "METHOD /path" from the route key, falling back to the
// raw method and path for $default routes
func routeKey(req events.APIGatewayV2HTTPRequest) string {
	if req.RouteKey != "" && req.RouteKey != "$default" {
		return req.RouteKey
	}

	path := req.RawPath
	if path == "" {
		path = req.RequestContext.HTTP.Path
	}
	if stage := req.RequestContext.Stage; stage != "" && stage != "$default" {
		path = strings.TrimPrefix(path, "/"+stage)
	}
	path = strings.TrimSuffix(path, "/")

	return strings.ToUpper(req.RequestContext.HTTP.Method) + " " + path
}

