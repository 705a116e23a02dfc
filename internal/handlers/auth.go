package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes caps request bodies read by the HTTP adapters
const maxBodyBytes = 1 << 20

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, name string, info models.RequestInfo) error
	Login(ctx context.Context, email, password string, info models.RequestInfo) (*services.AuthResponse, error)
}

// AuthHandler maps auth requests to envelope responses. HandleRegister and
// HandleLogin are transport-neutral; Register and Login adapt them to net/http.
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// HandleRegister registers a user from a raw JSON body
func (h *AuthHandler) HandleRegister(ctx context.Context, body []byte, info models.RequestInfo) pkghttp.Response {
	req, err := ParseRegister(body)
	if err != nil {
		return parseErrorResponse(err)
	}

	if err := h.service.Register(ctx, req.Email, req.Password, req.Name, info); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return pkghttp.Conflict(pkghttp.CodeUserExists, "User already exists")
		}
		return pkghttp.InternalError()
	}

	return pkghttp.JSON(http.StatusCreated, pkghttp.MessageResponse{Message: "Registered successfully"})
}

// HandleLogin authenticates a user from a raw JSON body
func (h *AuthHandler) HandleLogin(ctx context.Context, body []byte, info models.RequestInfo) pkghttp.Response {
	req, err := ParseLogin(body)
	if err != nil {
		return parseErrorResponse(err)
	}

	authResp, err := h.service.Login(ctx, req.Email, req.Password, info)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			return pkghttp.Unauthorized(pkghttp.CodeInvalidCredentials, "Invalid credentials")
		}
		return pkghttp.InternalError()
	}

	return pkghttp.JSON(http.StatusOK, authResp)
}

// Register handles user registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} pkghttp.MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		pkghttp.WriteResponse(w, pkghttp.BadRequest("Invalid JSON payload", ""))
		return
	}

	pkghttp.WriteResponse(w, h.HandleRegister(r.Context(), body, h.requestInfo(r)))
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		pkghttp.WriteResponse(w, pkghttp.BadRequest("Invalid JSON payload", ""))
		return
	}

	pkghttp.WriteResponse(w, h.HandleLogin(r.Context(), body, h.requestInfo(r)))
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func (h *AuthHandler) requestInfo(r *http.Request) models.RequestInfo {
	return models.RequestInfo{
		RequestID: middleware.GetReqID(r.Context()),
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// parseErrorResponse maps a ParseRegister/ParseLogin error to a 400
func parseErrorResponse(err error) pkghttp.Response {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrBodyMissing):
		return pkghttp.BadRequest("Request body is missing", "")
	case errors.Is(err, ErrInvalidJSON):
		return pkghttp.BadRequest("Invalid JSON payload", "")
	case errors.As(err, &ve):
		return pkghttp.BadRequest("Invalid input", ve.Error())
	default:
		return pkghttp.BadRequest("Invalid input", "")
	}
}
