// Package relay implements the Relay Channel used by peers to exchange the
// session descriptions and network candidates that bootstrap a call.
//
// A relay is an append-only log per topic with real-time subscriptions and
// per-record deletion. Peers use three kinds of topics:
//
//  offers                  // session offers, one record per call attempt
//  answers                 // session answers
//  candidates/{from}_{to}  // transient mailbox of network candidates
//
// Records are consumed exactly once: the receiving side deletes them after
// processing. The users topic backs the Directory, which resolves display
// names for incoming calls.
//
// Hub is an in-process Channel over a Store. Stores keep the records in memory
// (InmemStore), in a Badger database (BadgerStore), or in Redis (RedisStore).
// The wamp sub-package exposes a Hub to remote peers over WebSockets.
package relay
