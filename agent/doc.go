// Package agent implements the message handlers that make up a handoff
// group. An agent is configured by an immutable Config whose Role selects
// its behavior:
//
//  1. Proxy: the entry and exit point of a group; relays, never reasons
//  2. Plain: runs the turn loop and either hands off or answers
//  3. Assistant: Plain plus intent driven escalation to the master
//  4. Master: Plain plus loop prevention over its downward handoff tools
//
// Handlers are created per agent type by the bus through a core.Factory and
// receive their messages one at a time.
package agent
