package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vedran77/orderchat/internal/domain"
)

// Claims are the token fields this service relies on. Tokens are issued by
// the marketplace auth service.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens and turns them into identities.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify returns the identity in token or an error wrapping domain.ErrUnauthenticated.
func (v *JWTVerifier) Verify(token string) (domain.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing token", domain.ErrUnauthenticated)
	}

	var claims Claims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	userID, err := uuid.Parse(sub)
	if err != nil || userID == uuid.Nil {
		return domain.Identity{}, fmt.Errorf("%w: invalid subject", domain.ErrUnauthenticated)
	}

	return domain.Identity{UserID: userID, DisplayName: claims.Name}, nil
}
