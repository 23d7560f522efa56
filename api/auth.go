package api

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"auctionhouse/models"
)

const (
	accessTokenCookie = "AccessToken"
	profileKey        = "profile"
)

type JWT struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ParseEd25519PublicKey reads the PEM encoded key tokens are verified with.
func ParseEd25519PublicKey(pemKey string) (ed25519.PublicKey, error) {
	const op = "ParseEd25519PublicKey"
	key, err := jwt.ParseEdPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public key, err=%w", op, err)
	}
	edKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("[%s] Public key is not Ed25519", op)
	}
	return edKey, nil
}

func ParseAndValidateJWT(tokenString string, key ed25519.PublicKey) (*JWT, error) {
	const op = "ParseJWT"
	token, err := jwt.ParseWithClaims(tokenString, &JWT{}, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*JWT)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("%s: subject is not a user id: %w", op, err)
	}
	return claims, nil
}

func accessToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
	}
	cookie, err := c.Cookie(accessTokenCookie)
	if err != nil {
		return ""
	}
	return cookie
}

// authenticate rejects requests without a valid access token and makes
// sure the caller has a wallet.
func (impl *ServerImpl) authenticate(c *gin.Context) {
	token := accessToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("missing access token"))
		return
	}
	claims, err := ParseAndValidateJWT(token, impl.publicKey)
	if err != nil {
		impl.logger.Debug("Fail to parse and validate JWT", slog.Any("error", err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid access token"))
		return
	}

	profile, err := impl.store.EnsureProfile(c.Request.Context(), uuid.MustParse(claims.Subject), claims.Username)
	if err != nil {
		impl.internalError(c, err)
		return
	}
	c.Set(profileKey, profile)
	c.Next()
}

func currentProfile(c *gin.Context) *models.Profile {
	return c.MustGet(profileKey).(*models.Profile)
}

var errMissingKey = errors.New("auth public key is required")
