package gows

import (
	"net"
	"net/url"
)

// ConnView is the read-only snapshot of connection identity and
// request metadata a Handler callback receives. It also exposes the
// connection's serialized outbound operations — a Handler MUST NOT
// read or write the underlying transport directly; SendText,
// SendBinary, Close, and CloseWithCode are the only sanctioned way in.
type ConnView struct {
	// ID identifies the connection for logging/correlation purposes.
	ID string
	// RemoteAddr is the peer address captured at the Open transition.
	RemoteAddr net.Addr
	// Path is the request-target from the handshake request line.
	Path string
	// Query holds the parsed query string from Path, if any.
	Query url.Values

	conn *Conn
}

// SendText enqueues a text message for the connection.
func (v *ConnView) SendText(s string) error { return v.conn.SendText(s) }

// SendBinary enqueues a binary message for the connection.
func (v *ConnView) SendBinary(b []byte) error { return v.conn.SendBinary(b) }

// Close closes the connection with CloseNormalClosure.
func (v *ConnView) Close() error { return v.conn.Close() }

// CloseWithCode closes the connection with the given status code and
// reason.
func (v *ConnView) CloseWithCode(code CloseCode, reason string) error {
	return v.conn.CloseWithCode(code, reason)
}

// ActionKind is the verb of a Result returned by a Handler callback.
type ActionKind int

const (
	// ActionContinue keeps the connection open, updating handler state.
	ActionContinue ActionKind = iota
	// ActionReply sends one frame matching the inbound message's
	// opcode, then keeps the connection open.
	ActionReply
	// ActionClose sends a close frame, closes the transport, and
	// invokes Terminate.
	ActionClose
)

// Result is what a Handler callback returns to tell Conn what to do
// next, and what the handler's opaque state should become.
type Result struct {
	Kind         ActionKind
	State        any
	ReplyPayload []byte
	Code         CloseCode
	Reason       string
}

// Continue keeps the connection open with the given updated state.
func Continue(state any) Result {
	return Result{Kind: ActionContinue, State: state}
}

// Reply sends payload back to the peer using the same opcode as the
// inbound message, then keeps the connection open with state.
func Reply(payload []byte, state any) Result {
	return Result{Kind: ActionReply, ReplyPayload: payload, State: state}
}

// Close closes the connection with CloseNormalClosure ("Normal
// Closure").
func Close(state any) Result {
	return Result{Kind: ActionClose, State: state, Code: CloseNormalClosure, Reason: "Normal Closure"}
}

// CloseWith closes the connection with a specific code and reason.
func CloseWith(code CloseCode, reason string, state any) Result {
	return Result{Kind: ActionClose, State: state, Code: code, Reason: reason}
}

// Handler is the capability set Conn requires of a user-supplied
// message handler (spec section 4.5). HandleError and Terminate are
// optional in spirit — embed BaseHandler to get no-op defaults for
// them instead of implementing every method.
type Handler interface {
	// Init is invoked once, right after the 101 response is written,
	// to produce the initial opaque handler state.
	Init(view *ConnView, opts any) (any, error)
	// HandleText is invoked once per reassembled text message.
	HandleText(view *ConnView, payload []byte, state any) Result
	// HandleBinary is invoked once per reassembled binary message.
	HandleBinary(view *ConnView, payload []byte, state any) Result
	// Terminate is invoked at most once, as an open connection (one
	// whose Init succeeded) transitions to Closed, with the close code
	// and reason that caused it. It is not invoked for a rejected
	// handshake, a failed Init, or a transport error other than EOF.
	Terminate(view *ConnView, code CloseCode, reason string, state any)
	// HandleError is invoked when a decode/handshake error kind is
	// about to trigger the connection's mandated protocol action; the
	// action still happens regardless of what HandleError returns —
	// this is informational only.
	HandleError(view *ConnView, kind string, state any) Result
}

// BaseHandler supplies no-op defaults for Terminate and HandleError.
// Embed it in a concrete Handler to only implement Init, HandleText,
// and HandleBinary.
type BaseHandler struct{}

func (BaseHandler) Terminate(*ConnView, CloseCode, string, any) {}

func (BaseHandler) HandleError(_ *ConnView, _ string, state any) Result {
	return Continue(state)
}
