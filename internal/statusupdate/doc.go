// Package statusupdate is the single entry point for status changes arriving
// over the socket channel or the HTTP fallback.
//
// Both paths call ApplyStatusChange. Requests without a request ID are
// applied as they come; concurrent ones are serialized by the coordinator
// and the last applied wins. A request ID makes the change idempotent for a
// while, so a client that retries on the fallback after an unanswered
// socket send does not apply the change twice.
package statusupdate
