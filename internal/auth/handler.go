package auth

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/servelist/backend/pkg/apperror"
	"github.com/servelist/backend/pkg/response"
)

// LoginRequest is the body for POST /admin/login.
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// TokenResponse carries an issued capability token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Handler handles admin login.
type Handler struct {
	tokens       *CapabilityService
	passwordHash string
	logger       *zap.Logger
}

// NewHandler creates an auth handler checking passwords against passwordHash.
func NewHandler(tokens *CapabilityService, passwordHash string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tokens: tokens, passwordHash: passwordHash, logger: logger}
}

// Login handles POST /admin/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !CheckPassword(req.Password, h.passwordHash) {
		h.logger.Warn("admin login rejected", zap.String("client_ip", c.ClientIP()))
		response.Error(c, apperror.Newf(apperror.ErrUnauthorized, "invalid password"))
		return
	}
	token, expires, err := h.tokens.Issue(ScopeAdmin)
	if err != nil {
		h.logger.Error("issue admin token", zap.Error(err))
		response.Internal(c, "failed to issue token")
		return
	}
	response.OK(c, TokenResponse{Token: token, ExpiresAt: expires})
}
