// Package wamp exposes a relay over WAMP, RPC and PubSub over WebSockets.
//
// The Server wraps a relay.Hub. It registers the relay operations as
// procedures of an embedded client, and publishes an event every time a record
// is added to, or removed from, a topic. The Client implements relay.Channel
// on top of these procedures and events, so that peers running in different
// processes can share the same relay.
//
// The connection is over secured web-sockets when the server is given a
// certificate and key. The client can trust a self-signed certificate read from
// a PEM file, or skip verification altogether, which should only be used for
// testing.
package wamp

import (
	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
)

// Procedures registered by the relay server.
const (
	ProcPush   = "io.walkie.relay.push"
	ProcRemove = "io.walkie.relay.remove"
	ProcList   = "io.walkie.relay.list"
	ProcQuery  = "io.walkie.relay.query"
)

const (
	// ErrProcessingRequest indicates that the relay ran into an error while
	// processing a request.
	ErrProcessingRequest = "io.walkie.processing_request"

	addedPrefix   = "io.walkie.relay.added."
	removedPrefix = "io.walkie.relay.removed."
)

func addedTopic(topic string) string {
	return addedPrefix + topic
}

func removedTopic(topic string) string {
	return removedPrefix + topic
}

func errResult(msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  ErrProcessingRequest,
		Args: wamp.List{msg},
	}
}
