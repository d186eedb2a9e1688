package middleware

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/labelstream/internal/db"
)

const (
	cookieName           = "labelstream_auth"
	tokenDuration        = 24 * time.Hour
	settingsKeyPassword  = "admin_password"
	settingsKeyJWTSecret = "jwt_secret"
	secretLength         = 32
)

type Claims struct {
	jwt.RegisteredClaims
	Authenticated bool `json:"authenticated"`
}

type AuthMiddleware struct {
	settings *db.SettingsOperations
	secret   []byte
	logger   *zap.Logger
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

type SetupRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type StatusResponse struct {
	Authenticated bool `json:"authenticated"`
	SetupRequired bool `json:"setup_required"`
}

// NewAuthMiddleware loads the token signing secret from settings,
// generating and storing one on first start.
func NewAuthMiddleware(ctx context.Context, settings *db.SettingsOperations, logger *zap.Logger) (*AuthMiddleware, error) {
	a := &AuthMiddleware{settings: settings, logger: logger}

	secret, err := a.getOrCreateSecret(ctx)
	if err != nil {
		return nil, err
	}
	a.secret = secret

	return a, nil
}

func (a *AuthMiddleware) getOrCreateSecret(ctx context.Context) ([]byte, error) {
	setting, err := a.settings.GetSetting(ctx, settingsKeyJWTSecret)
	if err == nil {
		return hex.DecodeString(setting.Value)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	secret := make([]byte, secretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	if err := a.settings.SetSetting(ctx, settingsKeyJWTSecret, hex.EncodeToString(secret)); err != nil {
		return nil, err
	}
	a.logger.Info("generated new token signing secret")
	return secret, nil
}

func (a *AuthMiddleware) isSetupRequired(ctx context.Context) bool {
	_, err := a.settings.GetSetting(ctx, settingsKeyPassword)
	return errors.Is(err, sql.ErrNoRows)
}

func (a *AuthMiddleware) generateToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
			Issuer:    "labelstream",
		},
		Authenticated: true,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (a *AuthMiddleware) issue(c *gin.Context, message string) {
	token, err := a.generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Failed to generate token"})
		return
	}
	c.SetCookie(cookieName, token, int(tokenDuration.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Message: message, Token: token})
}

func (a *AuthMiddleware) SetupHandler(c *gin.Context) {
	ctx := c.Request.Context()
	if !a.isSetupRequired(ctx) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Setup already completed"})
		return
	}

	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request, password must be at least 6 characters"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}
	if err := a.settings.SetSetting(ctx, settingsKeyPassword, string(hashed)); err != nil {
		a.logger.Error("failed to save admin password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save password"})
		return
	}

	a.issue(c, "Setup completed")
}

func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	setting, err := a.settings.GetSetting(ctx, settingsKeyPassword)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusForbidden, LoginResponse{Message: "Setup required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Server error"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(setting.Value), []byte(req.Password)); err != nil {
		a.logger.Warn("failed login attempt", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, LoginResponse{Message: "Invalid password"})
		return
	}

	a.issue(c, "")
}

func (a *AuthMiddleware) LogoutHandler(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Message: "Logged out"})
}

func (a *AuthMiddleware) StatusHandler(c *gin.Context) {
	if token := a.getTokenFromRequest(c); token != "" {
		if claims, err := a.validateToken(token); err == nil {
			c.JSON(http.StatusOK, StatusResponse{Authenticated: claims.Authenticated})
			return
		}
	}
	c.JSON(http.StatusOK, StatusResponse{SetupRequired: a.isSetupRequired(c.Request.Context())})
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.getTokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := a.validateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		if !claims.Authenticated {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		c.Set("authenticated", true)
		c.Set("claims", claims)
		c.Next()
	}
}

// RequestLogger logs one line per request in the style of the rest of
// the service.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
