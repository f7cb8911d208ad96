// Package downloads implements the download side of the transfer queue:
// filter evaluation, destination resolution, duplicate and path-conflict
// handling, folder batch downloads, retry timers and completion placement.
//
// The manager owns its transfer registry exclusively and mutates it only
// from the event loop. Peer and worker messages arrive as events; outbound
// protocol messages go through the network messenger.
package downloads
