package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carrental-api/internal/domain"
	"carrental-api/internal/service"
)

const (
	msgServerError   = "Server error"
	msgInvalidBody   = "Invalid request body"
	msgOTPSent       = "OTP sent to your email"
	msgOTPNotSent    = "OTP issued but the email could not be sent. Please try again later."
	msgNoOTP         = "No valid OTP found. Please request a new OTP."
	msgOTPExpired    = "OTP expired. Request again."
	msgInvalidOTP    = "Invalid OTP"
	msgInvalidCreds  = "Invalid credentials"
	msgEmailTaken    = "Email already registered"
	msgNoSuchAccount = "No account with that email"
)

// AuthHandler mantiene dependencias para los endpoints de autenticacion.
type AuthHandler struct {
	logger   *zap.Logger
	userServ *service.UserService
	jwtServ  *service.JWTService
}

func NewAuthHandler(logger *zap.Logger, userServ *service.UserService, jwtServ *service.JWTService) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		userServ: userServ,
		jwtServ:  jwtServ,
	}
}

// sessionUser es el payload publico del usuario en login y en el token.
type sessionUser struct {
	ID       string      `json:"id"`
	Email    string      `json:"email"`
	Role     domain.Role `json:"role"`
	FullName string      `json:"fullName"`
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"ok": false, "message": message})
}

// validationMessage devuelve el mensaje de un ValidationError, si lo es.
func validationMessage(err error) (string, bool) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		return ve.Message, true
	}
	return "", false
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		FullName          string `json:"fullName"`
		Email             string `json:"email"`
		Password          string `json:"password"`
		Phone             string `json:"phone"`
		Role              string `json:"role"`
		CompanyName       string `json:"companyName"`
		BusinessLicenseID string `json:"businessLicenseId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	user, err := h.userServ.Register(c.Request.Context(), service.RegisterInput{
		FullName:          req.FullName,
		Email:             req.Email,
		Password:          req.Password,
		Phone:             req.Phone,
		Role:              req.Role,
		CompanyName:       req.CompanyName,
		BusinessLicenseID: req.BusinessLicenseID,
	})
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			fail(c, http.StatusBadRequest, msg)
			return
		}
		if errors.Is(err, service.ErrDuplicateEmail) {
			fail(c, http.StatusBadRequest, msgEmailTaken)
			return
		}
		h.logger.Error("register failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, msgServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Registered successfully", "userId": user.ID})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	user, err := h.userServ.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			fail(c, http.StatusBadRequest, msg)
			return
		}
		if errors.Is(err, service.ErrInvalidCredentials) {
			fail(c, http.StatusUnauthorized, msgInvalidCreds)
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, msgServerError)
		return
	}

	token, _, err := h.jwtServ.Issue(user)
	if err != nil {
		h.logger.Error("issue token failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, msgServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"message": "Logged in",
		"token":   token,
		"user": sessionUser{
			ID:       user.ID,
			Email:    user.Email,
			Role:     user.Role,
			FullName: user.FullName,
		},
	})
}

// Forgot maneja POST /auth/forgot. Un fallo de envio no cambia el 200.
func (h *AuthHandler) Forgot(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid forgot request", zap.Error(err))
		fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	issue, err := h.userServ.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			fail(c, http.StatusBadRequest, msg)
			return
		}
		if errors.Is(err, service.ErrUserNotFound) {
			fail(c, http.StatusNotFound, msgNoSuchAccount)
			return
		}
		h.logger.Error("forgot failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, msgServerError)
		return
	}

	message := msgOTPSent
	if !issue.Delivered {
		message = msgOTPNotSent
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": message})
}

// Reset maneja POST /auth/reset.
func (h *AuthHandler) Reset(c *gin.Context) {
	var req struct {
		Email       string `json:"email"`
		OTP         string `json:"otp"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reset request", zap.Error(err))
		fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	err := h.userServ.ResetPassword(c.Request.Context(), req.Email, req.OTP, req.NewPassword)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			fail(c, http.StatusBadRequest, msg)
			return
		}
		switch {
		case errors.Is(err, service.ErrOTPNotRequested):
			fail(c, http.StatusBadRequest, msgNoOTP)
		case errors.Is(err, service.ErrOTPExpired):
			fail(c, http.StatusBadRequest, msgOTPExpired)
		case errors.Is(err, service.ErrOTPInvalid):
			fail(c, http.StatusBadRequest, msgInvalidOTP)
		default:
			h.logger.Error("reset failed", zap.Error(err))
			fail(c, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Password reset successful"})
}

// Me maneja GET /auth/me; requiere JWTAuthMiddleware.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Invalid token")
		return
	}

	user, err := h.userServ.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			fail(c, http.StatusUnauthorized, "Invalid token")
			return
		}
		h.logger.Error("load current user failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, msgServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "user": user})
}
