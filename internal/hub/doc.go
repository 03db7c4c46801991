// Package hub is the coordinating service instance of the presence gateway.
//
// A Hub owns the connection registry, the presence coordinator, topic
// routing, event delivery, the status updater, the dashboard aggregator and
// the message relay. Transports call Open when a verified principal
// connects, Handle for each inbound request, and Disconnect when the
// connection ends for any reason.
package hub
