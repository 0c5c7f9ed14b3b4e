// Package identity turns bearer credentials into verified identities.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

var ErrInvalidCredential = errors.New("identity: invalid credential")

type Verifier interface {
	Verify(ctx context.Context, credential string) (*domain.Identity, error)
}

// InsecureVerifier accepts the credential itself as the subject id. Local
// development only.
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, credential string) (*domain.Identity, error) {
	sub := strings.TrimSpace(credential)
	if sub == "" {
		return nil, ErrInvalidCredential
	}
	return &domain.Identity{SubjectID: sub, Provider: domain.ProviderManual}, nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (*domain.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*domain.Identity)
	return id, ok && id != nil
}
