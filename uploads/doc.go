// Package uploads implements the upload side of the transfer queue:
// admission control for peer queue requests, slot and bandwidth gating,
// FIFO and round-robin candidate selection with privileged precedence,
// queue-position reporting and graceful shutdown draining.
//
// The manager owns its transfer registry exclusively and mutates it only
// from the event loop. Peer and worker messages arrive as events; outbound
// protocol messages go through the network messenger.
package uploads
