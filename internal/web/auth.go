package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL = 12 * time.Hour
	tokenSubject    = "operator"
	tokenIssuer     = "heater-dashboard"
)

var (
	errInvalidPassword = errors.New("invalid password")
	errInvalidToken    = errors.New("invalid token")
)

// authenticator checks the shared operator password and issues HS256 tokens.
type authenticator struct {
	hash   []byte
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newAuthenticator(hash, secret string, ttl time.Duration) *authenticator {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &authenticator{hash: []byte(hash), secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (a *authenticator) login(password string) (string, time.Time, error) {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return "", time.Time{}, errInvalidPassword
	}
	now := a.now()
	exp := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   tokenSubject,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (a *authenticator) parse(raw string) error {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(tokenSubject),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !token.Valid {
		return errInvalidToken
	}
	return nil
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.auth == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "authentication disabled"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	token, exp, err := s.auth.login(req.Password)
	if err != nil {
		s.log.Infow("Login failed", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp.Unix()})
}

// requireAuth passes everything through when no password is configured.
func (s *Server) requireAuth(c *gin.Context) {
	if s.auth == nil {
		c.Next()
		return
	}
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing Authorization header"})
		return
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid Authorization header format"})
		return
	}
	if err := s.auth.parse(token); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid or expired token"})
		return
	}
	c.Next()
}
