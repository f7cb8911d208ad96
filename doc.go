// Package soulshare implements the transfer core of a peer-to-peer
// file-sharing client: the download and upload queues, the transfer protocol
// state machine, and the scheduling policies that decide which upload to
// serve next.
//
// The core is deliberately transport-agnostic. It consumes a small set of
// collaborator interfaces (a network Messenger, a shares Index and a buddy
// list) and communicates with the rest of the application through a typed
// event bus. All queue and registry mutation happens on the bus's single
// event loop.
//
// # Getting Started
//
// Create a Client with options and run its event loop:
//
//	options := soulshare.NewOptions("alice", "/home/alice/.soulshare")
//	options.Net = messenger
//	options.Shares = sharesIndex
//	options.Buddies = buddyList
//
//	client, err := soulshare.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go client.Run(ctx)
//
//	// Queue a download on the event loop.
//	client.Events().Post(event.ServerLogin{Success: true})
//	client.Invoke(func() {
//	    client.Downloads().Enqueue("somebody", "music\\song.mp3", "", 3145728)
//	})
//
// Inbound server and peer traffic is translated into events and posted onto
// the bus by the transport layer; progress reports from the network worker
// arrive the same way.
//
// # Core Types
//
//   - [Client]: wires the bus, the download and upload managers, session
//     presence tracking and the persistent ban list
//   - [Options]: configuration for creating a Client
//   - [Session]: presence tracker consulted by both managers
//   - [BanList]: persistent network-level ban list fed by upload bans
package soulshare
