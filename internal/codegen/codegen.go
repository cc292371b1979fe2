// Package codegen produces the short codes students type to join courses and
// check in to attendance sessions.
package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// Length of every generated code.
const Length = 6

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const maxAttempts = 10

// ErrExhausted is returned when no free code was found.
var ErrExhausted = errors.New("codegen: no unused code found")

// New returns a random uppercase alphanumeric code of Length characters.
func New() (string, error) {
	buf := make([]byte, Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("codegen: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Unique draws codes until taken reports one as free.
func Unique(taken func(code string) bool) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		code, err := New()
		if err != nil {
			return "", err
		}
		if !taken(code) {
			return code, nil
		}
	}
	return "", ErrExhausted
}
