package server

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// errBadCredentials is returned by StaticCredentials.Authenticate when the
// user or password does not match.
var errBadCredentials = errors.New("invalid username or password")

// StaticCredentials is a credential store backed by a single configured
// user/password pair, matching the server's single-tenant auth model. The
// password is hashed with bcrypt at construction time so the cleartext is
// never retained for the life of the process.
type StaticCredentials struct {
	user     string
	passHash []byte
}

// NewStaticCredentials hashes password with bcrypt and returns a credential
// store that accepts only the given user/password pair.
func NewStaticCredentials(user, password string) (*StaticCredentials, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &StaticCredentials{user: user, passHash: hash}, nil
}

// Authenticate reports whether user/pass matches the configured pair.
// Username comparison is constant-time for names of the configured length
// (a length mismatch fails at once, so the length itself is not hidden);
// password comparison is bcrypt's own constant-time compare.
func (c *StaticCredentials) Authenticate(user, pass string) error {
	if subtle.ConstantTimeCompare([]byte(user), []byte(c.user)) != 1 {
		// Still run bcrypt against our own hash so a wrong username doesn't
		// return faster than a wrong password would.
		_ = bcrypt.CompareHashAndPassword(c.passHash, []byte(pass))
		return errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(c.passHash, []byte(pass)); err != nil {
		return errBadCredentials
	}
	return nil
}
