package main

import (
	"crypto/subtle"
	"strings"

	"github.com/nupi-ai/svchost/internal/listener"
)

const (
	authAccepted = 0
	authRejected = -1
)

func parseBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}

// bearerValidator accepts calls whose authorization header carries token.
// An empty token accepts every call.
func bearerValidator(token string) listener.Validator {
	if token == "" {
		return nil
	}
	want := []byte(token)
	return func(headers listener.Headers) int {
		got := parseBearer(headers["authorization"])
		if got == "" {
			return authRejected
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return authRejected
		}
		return authAccepted
	}
}
