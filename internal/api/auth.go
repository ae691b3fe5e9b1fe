package api

import (
	"net/http"

	"appraisal/server/internal/auth"

	"github.com/gin-gonic/gin"
)

// LoginRequest accepts the username or the email in Username.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (r LoginRequest) identifier() string {
	if r.Username != "" {
		return r.Username
	}
	return r.Email
}

func (h *Handler) Register(c *gin.Context) {
	var in auth.RegisterInput
	if err := c.ShouldBind(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	u, err := h.auth.Register(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err, "Failed to register user")
		return
	}
	h.logger.WithField("user_id", u.ID).Info("User registered")
	c.JSON(http.StatusCreated, u)
}

// Login accepts JSON or an OAuth2 password form.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.identifier() == "" || req.Password == "" {
		badRequest(c, "username and password are required")
		return
	}

	u, err := h.auth.Authenticate(c.Request.Context(), req.identifier(), req.Password)
	if err != nil {
		h.respondError(c, err, "Failed to authenticate")
		return
	}
	token, err := h.auth.IssueToken(u)
	if err != nil {
		h.respondError(c, err, "Failed to issue token")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
		"expires_in":   token.ExpiresIn,
		"user":         u,
	})
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, auth.CurrentUser(c))
}

func (h *Handler) Refresh(c *gin.Context) {
	token, err := h.auth.IssueToken(auth.CurrentUser(c))
	if err != nil {
		h.respondError(c, err, "Failed to issue token")
		return
	}
	c.JSON(http.StatusOK, token)
}

// Logout is an acknowledgement only; tokens expire on their own.
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}
