package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ClientTokenLength is the length of every issued client token.
const ClientTokenLength = 16

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// tokenIndex derives the lookup index from the first four token characters.
// It is a narrowing hint only; the bcrypt hash is what authenticates.
func tokenIndex(token string) uint32 {
	sum := sha256.Sum256([]byte(token[:4]))
	return binary.BigEndian.Uint32(sum[:4])
}

func generateToken() (string, error) {
	// 248 is the largest multiple of len(tokenAlphabet) below 256; higher bytes
	// are dropped so every character is equally likely.
	const limit = 248
	out := make([]byte, 0, ClientTokenLength)
	buf := make([]byte, ClientTokenLength*2)
	for len(out) < ClientTokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == ClientTokenLength {
				break
			}
		}
	}
	return string(out), nil
}

func hashToken(token string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", fmt.Errorf("hashing token: %w", err)
	}
	return string(h), nil
}

func verifyToken(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
