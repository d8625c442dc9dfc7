package gows

import (
	"errors"
	"fmt"
)

// FrameErrorKind enumerates the ways DecodeFrames/EncodeFrame can
// reject input, matching spec section 7's "Frame decode"/"Frame
// encode" groups.
type FrameErrorKind string

const (
	ErrKindInvalidOpcode   FrameErrorKind = "invalid_opcode"
	ErrKindUseOfReserved   FrameErrorKind = "use_of_reserved"
	ErrKindPayloadTooLarge FrameErrorKind = "payload_too_large"
	ErrKindControlTooLarge FrameErrorKind = "control_frame_too_large"
	ErrKindControlFragment FrameErrorKind = "control_frame_fragmented"
)

// FrameError reports a malformed frame header or an encode-time
// rejection. Kind is stable and intended for callers that branch on
// the failure reason (e.g. to pick a close code).
type FrameError struct {
	Kind FrameErrorKind
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("gows: frame error: %s", e.Kind)
}

func newFrameError(kind FrameErrorKind) error {
	return &FrameError{Kind: kind}
}

// HandshakeErrorKind enumerates handshake parse/validation failures,
// matching spec section 7's "Handshake parse"/"Handshake validation"
// groups. The zero value is never produced.
type HandshakeErrorKind string

const (
	ErrKindInvalidMethod         HandshakeErrorKind = "invalid_method"
	ErrKindInvalidPath           HandshakeErrorKind = "invalid_path"
	ErrKindInvalidHTTPVersion    HandshakeErrorKind = "invalid_http_version"
	ErrKindInvalidHeaderSyntax   HandshakeErrorKind = "invalid_header_syntax"
	ErrKindInvalidHeaderUpgrade  HandshakeErrorKind = "invalid_header_upgrade"
	ErrKindInvalidHeaderConn     HandshakeErrorKind = "invalid_header_connection"
	ErrKindInvalidHeaderSecKey   HandshakeErrorKind = "invalid_header_sec_ws_key"
	ErrKindInvalidHeaderVersion  HandshakeErrorKind = "invalid_header_sec_ws_version"
	ErrKindInvalidHeaderNotEnough HandshakeErrorKind = "invalid_header_not_enough"
)

// HandshakeError reports why an upgrade request was rejected.
type HandshakeError struct {
	Kind HandshakeErrorKind
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("gows: handshake error: %s", e.Kind)
}

func newHandshakeError(kind HandshakeErrorKind) error {
	return &HandshakeError{Kind: kind}
}

// Connection-level sentinel errors (spec section 7's "Transport"
// group, plus runtime errors surfaced by Conn's public API).
var (
	// ErrConnClosed is returned by Conn operations attempted after the
	// connection has transitioned to Closed.
	ErrConnClosed = errors.New("gows: connection closed")

	// ErrTransportClosed marks a clean EOF from the peer with no
	// WebSocket close frame (the peer just went away).
	ErrTransportClosed = errors.New("gows: transport closed")

	// ErrInvalidUTF8 is returned by SendText when its argument is not
	// valid UTF-8. An inbound text message with invalid UTF-8 closes the
	// connection with CloseInvalidPayloadData instead.
	ErrInvalidUTF8 = errors.New("gows: invalid UTF-8 in text message")

	// ErrUnexpectedContinuation marks a continuation frame received
	// with no fragment sequence in progress.
	ErrUnexpectedContinuation = errors.New("gows: unexpected continuation frame")

	// ErrFragmentInProgress marks a new text/binary frame received
	// while a fragmented message is still being assembled.
	ErrFragmentInProgress = errors.New("gows: data frame interrupts fragmented message")
)
