package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity is the signed-in gift author extracted from a Firebase ID token.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	Locale      string

	token *firebaseauth.Token
}

// Token exposes the decoded ID token.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// Valid reports whether the identity carries a usable uid.
func (i *Identity) Valid() bool {
	return i != nil && strings.TrimSpace(i.UID) != ""
}

type contextKey string

const identityKey contextKey = "giftcraft/auth/identity"

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity stored on ctx.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(identityKey).(*Identity)
	if !ok || !identity.Valid() {
		return nil, false
	}
	return identity, true
}
