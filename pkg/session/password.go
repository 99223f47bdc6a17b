package session

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/entry"
)

// userPasswordAttr is the attribute a simple bind checks credentials
// against.
const userPasswordAttr = "userPassword"

// VerifyPassword checks password against every userPassword value on e.
// Values prefixed "{BCRYPT}" hold a bcrypt hash; unprefixed values are
// compared in constant time. Any matching value authenticates.
func VerifyPassword(e *entry.Entry, password []byte) error {
	attr, ok := e.Get(userPasswordAttr)
	if !ok || len(attr.Values) == 0 {
		return dirserrors.New(dirserrors.InsufficientAccessRights, "entry has no password")
	}
	for _, stored := range attr.Values {
		if hash, ok := strings.CutPrefix(stored, "{BCRYPT}"); ok {
			if bcrypt.CompareHashAndPassword([]byte(hash), password) == nil {
				return nil
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(stored), password) == 1 {
			return nil
		}
	}
	return dirserrors.New(dirserrors.InsufficientAccessRights, "invalid credentials")
}

// HashPassword produces the at-rest form for a new userPassword value.
func HashPassword(password []byte) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return "", dirserrors.Wrap(dirserrors.Other, err, "hashing password")
	}
	return "{BCRYPT}" + string(hash), nil
}
