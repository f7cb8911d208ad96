package protocol

import "math"

// IncrementToken returns the next transfer token. Tokens are ephemeral
// correlation identifiers; zero is reserved for "no token", so the counter
// wraps back to one.
func IncrementToken(token uint32) uint32 {
	if token == math.MaxUint32 {
		return 1
	}
	return token + 1
}
