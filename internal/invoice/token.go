package invoice

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/ledgerline/invoicing/internal/shared"
)

const confirmTokenBytes = 32

// newConfirmToken returns a random URL-safe token and its bcrypt hash.
func newConfirmToken() (string, string, error) {
	buf := make([]byte, confirmTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate confirm token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash confirm token: %w", err)
	}
	return token, string(hash), nil
}

// verifyConfirmToken hides the invoice behind ErrNotFound unless token
// matches the hash stored when it was sent.
func verifyConfirmToken(inv *Invoice, token string) error {
	if inv.Type() != TypeB2B || inv.ConfirmTokenHash == "" || token == "" {
		return shared.ErrNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(inv.ConfirmTokenHash), []byte(token)); err != nil {
		return shared.ErrNotFound
	}
	return nil
}
