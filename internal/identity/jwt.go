package identity

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	jwt.RegisteredClaims
	Name     string         `json:"name,omitempty"`
	Email    string         `json:"email,omitempty"`
	Picture  string         `json:"picture,omitempty"`
	Firebase FirebaseClaims `json:"firebase,omitempty"`
}

type FirebaseClaims struct {
	SignInProvider string `json:"sign_in_provider,omitempty"`
}

// JWTVerifier checks RS256 tokens issued by the identity provider.
type JWTVerifier struct {
	public *rsa.PublicKey
	parser *jwt.Parser
	issuer string
}

func NewJWTVerifier(public *rsa.PublicKey, issuer, audience string, clockSkew time.Duration) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &JWTVerifier{
		public: public,
		parser: jwt.NewParser(opts...),
		issuer: issuer,
	}
}

func (v *JWTVerifier) Verify(_ context.Context, credential string) (*domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return v.public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	return &domain.Identity{
		SubjectID:   claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
		AvatarURL:   claims.Picture,
		Issuer:      claims.Issuer,
		Provider:    providerFromSignIn(claims.Firebase.SignInProvider),
	}, nil
}

func providerFromSignIn(p string) domain.Provider {
	switch p {
	case "google.com":
		return domain.ProviderGoogle
	case "github.com":
		return domain.ProviderGitHub
	case "facebook.com":
		return domain.ProviderFacebook
	default:
		return domain.ProviderManual
	}
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return pub, nil
}
