// Package protocol defines the abstract shapes of the peer and server
// messages the transfer core produces and consumes, along with the shared
// vocabulary used across them: transfer directions, peer-supplied rejection
// reasons, user presence statuses and transfer tokens.
//
// These are logical message shapes, not wire encodings. The network worker
// owns serialization; the transfer core only constructs and inspects these
// values.
package protocol
