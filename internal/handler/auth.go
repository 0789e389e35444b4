package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poolify/poolify/internal/service"
	logger "github.com/poolify/poolify/middleware/log"
)

type AuthHandler struct {
	authService service.IAuthService
	logger      *logger.Logger
}

func NewAuthHandler(authService service.IAuthService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      log.Named("auth-handler"),
	}
}

// RefreshRequest carries a still-refreshable token.
type RefreshRequest struct {
	Token string `json:"token" binding:"required"`
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ok(c, http.StatusCreated, resp, nil)
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ok(c, http.StatusOK, resp, nil)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.authService.Refresh(c.Request.Context(), req.Token)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ok(c, http.StatusOK, resp, nil)
}
