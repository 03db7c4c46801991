// Package messaging relays supervisor messages to agents.
//
// A direct message goes to the agent:<code> topic of its recipient. A
// broadcast goes to one team topic when it names a team, otherwise to
// every agent topic; each connection receives it once. Content is trimmed,
// limited in length and rendered from markdown to HTML with goldmark.
package messaging
