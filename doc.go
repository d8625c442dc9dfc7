// Package gows implements the RFC 6455 WebSocket protocol core: the
// incremental HTTP/1.1 upgrade handshake parser, Sec-WebSocket-Accept
// derivation, the frame codec, and a per-connection state machine that
// drives a socket through Handshake -> Open -> Closed while dispatching
// decoded messages to a user-supplied Handler.
//
// The codec and handshake parser are pure functions over byte slices:
// they never block and never read directly from a net.Conn, so they
// can be fed arbitrarily split or coalesced TCP segments. Conn owns the
// transport and drives these parsers as bytes arrive.
//
// Out of scope: permessage-deflate, TLS, client-side handshake
// initiation, and origin/auth policy (left to the Handler).
package gows
