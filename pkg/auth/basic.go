package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// BasicAuthEngine accepts a single shared username and password pair.
type BasicAuthEngine struct {
	username [sha256.Size]byte
	password [sha256.Size]byte
	name     string
}

// NewBasicAuthEngine creates a new BasicAuthEngine accepting the given
// username and password.
func NewBasicAuthEngine(username string, password string) *BasicAuthEngine {
	return &BasicAuthEngine{
		username: sha256.Sum256([]byte(username)),
		password: sha256.Sum256([]byte(password)),
		name:     username,
	}
}

// AuthenticateRequest checks the Authorization header for valid Basic Auth
// credentials. It returns a User object if the credentials are valid, nil otherwise.
// Both fields are always compared, in constant time.
func (e *BasicAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	userHash := sha256.Sum256([]byte(user))
	passHash := sha256.Sum256([]byte(pass))

	userMatch := subtle.ConstantTimeCompare(userHash[:], e.username[:])
	passMatch := subtle.ConstantTimeCompare(passHash[:], e.password[:])
	if userMatch&passMatch != 1 {
		return nil, nil
	}

	return &User{Name: e.name}, nil
}
