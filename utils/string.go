// Package utils holds small string helpers shared by the server, the client
// and the relay.
package utils

import (
	"math/rand"
	"strings"
)

var charset = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// GenerateRandomString creates a string of the given length consisting of
// random alphanumeric characters (a-z, A-Z, 0-9).
//
// Parameters:
//   - length: The desired length of the output string
//
// Returns:
//   - A random alphanumeric string of length characters
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}

	return string(b)
}

// FrameLine returns s terminated by exactly the newline it needs: s itself
// if it already ends in "\n", otherwise s + "\n".
func FrameLine(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}

	return s + "\n"
}
