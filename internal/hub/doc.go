// Package hub talks to the smart-room device hub.
//
// Client wraps the REST control surface (state queries and service calls).
// Dialer opens the persistent event stream: it authenticates with the
// long-lived access token, subscribes to state_changed events and hands
// each event to the caller through EventConn.Next.
//
// Every outbound call is bounded by a timeout. Errors wrap ErrTransport when
// the hub could not be reached, so callers can tell an unreachable hub from
// one that answered with an error (*StatusError).
package hub
