package identity

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Firebase verifies Firebase ID tokens and revokes sessions. Current reads
// the claims the HTTP middleware placed on the context after Verify.
type Firebase struct {
	client *auth.Client
}

// NewFirebase initializes the Firebase app. With an empty credentialsFile
// application default credentials are used.
func NewFirebase(ctx context.Context, credentialsFile string) (*Firebase, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("get auth client: %w", err)
	}
	return &Firebase{client: client}, nil
}

// Verify checks a Firebase ID token and returns the user it names.
func (f *Firebase) Verify(ctx context.Context, idToken string) (*User, error) {
	token, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	u := &User{ID: token.UID}
	if email, ok := token.Claims["email"].(string); ok {
		u.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		u.Name = name
	}
	return u, nil
}

func (f *Firebase) Current(ctx context.Context) (*User, error) {
	u, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoSession
	}
	return u, nil
}

// SignOut revokes the user's refresh tokens. Revoking an already-revoked
// user is a no-op, which keeps this idempotent.
func (f *Firebase) SignOut(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if err := f.client.RevokeRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}
