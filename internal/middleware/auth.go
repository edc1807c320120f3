package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"messaging-service/internal/models"
)

const (
	userIDKey = "userID"
	roleKey   = "role"
)

// Claims are issued by the LMS identity provider.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier resolves a bearer token to the caller identity.
type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) Verify(tokenString string) (models.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return models.Identity{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Identity{}, errors.New("invalid token claims")
	}
	if claims.UserID <= 0 {
		return models.Identity{}, errors.New("token has no user id")
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{UserID: claims.UserID, Role: role}, nil
}

// Issue signs a token for the identity. Used by tests and the dev token route.
func (v *JWTVerifier) Issue(id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: id.UserID,
		Role:   string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Subject:   fmt.Sprintf("%d", id.UserID),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware validates the Authorization header and stores the caller identity.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		SetIdentity(c, identity)
		c.Next()
	}
}

// RequireAdmin rejects non-admin callers with 403.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok || !identity.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

func SetIdentity(c *gin.Context, identity models.Identity) {
	c.Set(userIDKey, identity.UserID)
	c.Set(roleKey, identity.Role)
}

// IdentityFrom reads the identity stored by AuthMiddleware.
func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	userID, ok := c.Get(userIDKey)
	if !ok {
		return models.Identity{}, false
	}
	role, ok := c.Get(roleKey)
	if !ok {
		return models.Identity{}, false
	}
	id, idOK := userID.(int64)
	r, roleOK := role.(models.Role)
	if !idOK || !roleOK {
		return models.Identity{}, false
	}
	return models.Identity{UserID: id, Role: r}, true
}
