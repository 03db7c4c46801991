// Package fanout routes outbound frames to interested connections.
//
// # Topics
//
//   - agent:<code>: the connections of one identity
//   - team:<id>: members and monitors of a team
//   - dashboard: Supervisors and Admins watching the floor
//
// The Router keeps (connection, topic) subscriptions and enforces who may
// join what. The Bus holds one Sink per connection and delivers an
// Envelope to the subscribers of a topic as they are at publish time.
// Delivery is best effort: a sink that fails is skipped and the returned
// count is lowered.
//
// Dispatcher implements presence.Notifier, publishing each presence event
// to the dashboard, the identity's topic and its team topic. A connection
// subscribed to several of them receives the frame once.
package fanout
