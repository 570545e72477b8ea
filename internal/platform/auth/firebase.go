package auth

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

const firebaseProvider = "firebase"

type firebaseTokenClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier accepts Firebase ID tokens, letting buyer organisations sign in through
// Firebase Authentication instead of a first-party JWT issuer.
type FirebaseVerifier struct {
	client       firebaseTokenClient
	checkRevoked bool
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithRevocationCheck makes every verification consult Firebase for revoked sessions, so a
// disabled buyer account loses access before its token expires. Costs one RPC per request.
func WithRevocationCheck() FirebaseOption {
	return func(v *FirebaseVerifier) { v.checkRevoked = true }
}

// NewFirebaseVerifier initialises the Admin SDK for projectID. A blank credentialsFile uses
// application default credentials.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if path := strings.TrimSpace(credentialsFile); path != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(path))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	return newFirebaseVerifier(client, opts...), nil
}

func newFirebaseVerifier(client firebaseTokenClient, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify implements TokenVerifier. Expired and revoked tokens map to ErrTokenExpired so callers
// are told to sign in again; everything else is ErrTokenInvalid.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*VerifiedToken, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("auth: firebase verifier not initialised")
	}

	verify := v.client.VerifyIDToken
	if v.checkRevoked {
		verify = v.client.VerifyIDTokenAndCheckRevoked
	}
	token, err := verify(ctx, idToken)
	switch {
	case err == nil:
	case firebaseauth.IsIDTokenExpired(err), firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	return &VerifiedToken{Subject: token.UID, Claims: maps.Clone(token.Claims), Provider: firebaseProvider}, nil
}
