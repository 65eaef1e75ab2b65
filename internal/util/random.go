// Package util provides utility functions shared across the application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified
// length. Non-cryptographic.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateFlowID generates a unique flow ID with "flow_" prefix.
func GenerateFlowID() string {
	return GenerateRandomID("flow_", 16)
}

// GenerateCallID generates a unique call ID with "call_" prefix, used when
// the call platform supplies none.
func GenerateCallID() string {
	return GenerateRandomID("call_", 16)
}
