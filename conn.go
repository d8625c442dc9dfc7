package gows

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"unicode/utf8"
)

type connState int

const (
	stateHandshake connState = iota
	stateOpen
	stateClosed
)

// ConnOptions configures a Conn. The zero value is valid; unset fields
// take the defaults documented below.
type ConnOptions struct {
	// Subprotocols, if non-empty, are offered to NegotiateSubprotocol
	// against the client's Sec-WebSocket-Protocol header.
	Subprotocols []string
	// ReadBufferSize sizes the chunks read from the transport on each
	// pass. Default: 4096.
	ReadBufferSize int
	// MaxMessageSize bounds the total size of a reassembled message
	// (summed across all fragments). Exceeding it closes the
	// connection with CloseMessageTooBig. Zero selects the default of
	// 32 MiB; a negative value disables the check.
	MaxMessageSize int
	// InitOpts is passed verbatim to Handler.Init.
	InitOpts any
	// Logger receives structured frame/lifecycle events. Default:
	// slog.Default().
	Logger *slog.Logger
}

const (
	defaultReadBufferSize = 4096
	defaultMaxMessageSize = 32 * 1024 * 1024
)

func (o *ConnOptions) withDefaults() ConnOptions {
	out := ConnOptions{}
	if o != nil {
		out = *o
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = defaultReadBufferSize
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = defaultMaxMessageSize
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

type fragmentState struct {
	opcode Opcode
	buf    bytes.Buffer
}

// Conn drives one TCP connection through Handshake -> Open -> Closed,
// feeding incoming bytes to the handshake parser and then the frame
// codec, dispatching reassembled messages to a Handler, and
// auto-answering ping/close control frames.
//
// A Conn exclusively owns its net.Conn and inbound buffer. Outbound
// writes (both the internal responses to control frames and the
// Handler-facing SendText/SendBinary/Close API) are serialized through
// writeMu so encoding and transport writes from different goroutines
// never interleave.
type Conn struct {
	netConn net.Conn
	handler Handler
	opts    ConnOptions

	state        connState
	inbox        []byte
	fragment     *fragmentState
	handlerState any
	view         *ConnView

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
}

// Serve runs the connection's read loop to completion: it parses the
// handshake, then decodes and dispatches frames, until the connection
// reaches Closed (peer close, protocol error, transport error, or the
// Handler requesting a close). It blocks and should be run in its own
// goroutine per connection, matching the single-threaded-cooperative
// model of spec section 5.
func Serve(netConn net.Conn, handler Handler, opts *ConnOptions) error {
	c := &Conn{
		netConn: netConn,
		handler: handler,
		opts:    opts.withDefaults(),
	}
	defer func() { _ = netConn.Close() }()

	readBuf := make([]byte, c.opts.ReadBufferSize)
	for {
		n, err := netConn.Read(readBuf)
		if n > 0 {
			c.inbox = append(c.inbox, readBuf[:n]...)
			c.processInbox()
			if c.isClosed() {
				return nil
			}
		}
		if err != nil {
			c.handleTransportError(err)
			return nil
		}
	}
}

func (c *Conn) isClosed() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	return c.closed
}

// handleTransportError distinguishes a clean peer disconnect (EOF)
// from any other transport error, per spec section 4.4's "Transport
// events" paragraph.
func (c *Conn) handleTransportError(err error) {
	c.closeMu.Lock()
	wasOpen := c.state == stateOpen
	c.state = stateClosed
	c.closed = true
	c.closeMu.Unlock()

	if errors.Is(err, io.EOF) {
		if wasOpen {
			c.opts.Logger.Debug("transport closed by peer", "conn", c.connID())
			c.closeOnce.Do(func() {
				if c.handler != nil {
					c.handler.Terminate(c.view, CloseNormalClosure, "Normal Closure", c.handlerState)
				}
			})
		}
		return
	}
	c.opts.Logger.Debug("transport error", "conn", c.connID(), "error", err)
}

func (c *Conn) connID() string {
	return fmt.Sprintf("%p", c)
}

// notifyHandlerError reports a decode/handshake error kind to the
// Handler before the connection performs its mandated protocol action.
// The Result is discarded: HandleError is informational only, the
// action happens regardless (spec section 4.5/7). c.view may still be
// nil here (a handshake-time failure happens before Handler.Init
// runs); that is passed through as-is.
func (c *Conn) notifyHandlerError(err error) {
	if c.handler == nil {
		return
	}
	var kind string
	var ferr *FrameError
	var herr *HandshakeError
	switch {
	case errors.As(err, &ferr):
		kind = string(ferr.Kind)
	case errors.As(err, &herr):
		kind = string(herr.Kind)
	default:
		kind = err.Error()
	}
	c.handler.HandleError(c.view, kind, c.handlerState)
}

// processInbox drains as much of c.inbox as the current state allows,
// feeding it to the handshake parser or the frame decoder.
func (c *Conn) processInbox() {
	for {
		switch c.state {
		case stateHandshake:
			if !c.stepHandshake() {
				return
			}
		case stateOpen:
			if !c.stepOpen() {
				return
			}
		case stateClosed:
			return
		}
	}
}

// stepHandshake attempts one handshake parse/validate/accept cycle.
// It returns true if the state may have changed and processInbox
// should loop again (e.g. to process frame bytes already in inbox
// right after the handshake completes).
func (c *Conn) stepHandshake() bool {
	req, rest, err := ParseHandshake(c.inbox)
	if err != nil {
		c.opts.Logger.Debug("handshake rejected", "error", err)
		c.notifyHandlerError(err)
		c.writeRaw([]byte(RejectResponse(err)))
		c.closeTransportOnly()
		return false
	}
	if req == nil {
		return false // incomplete; wait for more bytes
	}

	if verr := ValidateHandshake(req); verr != nil {
		c.opts.Logger.Debug("handshake validation failed", "error", verr)
		c.notifyHandlerError(verr)
		c.writeRaw([]byte(RejectResponse(verr)))
		c.closeTransportOnly()
		return false
	}

	subprotocol := NegotiateSubprotocol(req, c.opts.Subprotocols)
	key := req.header("sec-websocket-key")[0]
	c.writeRaw([]byte(AcceptResponse(key, subprotocol)))

	parsedURL, _ := url.Parse(req.Path)
	path, query := req.Path, url.Values{}
	if parsedURL != nil {
		path = parsedURL.Path
		query = parsedURL.Query()
	}
	c.view = &ConnView{
		ID:         c.connID(),
		RemoteAddr: c.netConn.RemoteAddr(),
		Path:       path,
		Query:      query,
		conn:       c,
	}

	handlerState, ierr := c.handler.Init(c.view, c.opts.InitOpts)
	if ierr != nil {
		c.opts.Logger.Error("handler init failed", "error", ierr)
		c.closeWithCode(CloseInternalError, "handler init failed", false)
		return false
	}
	c.handlerState = handlerState
	c.inbox = rest
	c.state = stateOpen
	return true
}

// stepOpen decodes whatever complete frames are available and
// dispatches them in order. It returns true if processInbox should
// loop again (more bytes may already be sitting in inbox).
func (c *Conn) stepOpen() bool {
	frames, rest, err := DecodeFrames(c.inbox)
	if err != nil {
		c.opts.Logger.Debug("frame decode error", "error", err)
		c.notifyHandlerError(err)
		c.closeWithCode(CloseProtocolError, "Protocol error", true)
		return false
	}
	c.inbox = rest

	for _, f := range frames {
		if c.dispatchFrame(f) {
			return false // connection closed mid-batch; stop dispatching
		}
	}
	// Bytes left after at least one decoded frame are either a partial
	// frame or a malformed header that DecodeFrames held back; loop once
	// more so a malformed header is reported now rather than after the
	// next read. A partial frame makes that pass return false.
	return len(frames) > 0 && len(c.inbox) > 0
}

// dispatchFrame processes one decoded frame per spec section 4.4's
// per-frame table. It returns true if the connection is now closed.
func (c *Conn) dispatchFrame(f Frame) bool {
	switch f.Opcode {
	case OpPing:
		pong, err := EncodeFrame(OpPong, f.Payload)
		if err == nil {
			c.writeRaw(pong)
		}
		return false

	case OpPong:
		return false

	case OpClose:
		return c.handleCloseFrame(f)

	case OpText, OpBinary, OpContinuation:
		return c.handleDataFrame(f)

	default:
		// Unreachable: DecodeFrames rejects every other opcode.
		return false
	}
}

// handleCloseFrame implements the echo-close half of spec 4.4's close
// handling, including the single-stray-byte malformed case from
// section 9's "Close code absence" note.
func (c *Conn) handleCloseFrame(f Frame) bool {
	if len(f.Payload) == 1 && !f.CodePresent {
		c.closeWithCode(CloseProtocolError, "Protocol error", true)
		return true
	}

	var code CloseCode
	var echo []byte
	var err error
	if f.CodePresent {
		code = f.Code
		echo, err = EncodeClose(f.Code, "")
	} else {
		echo, err = EncodeFrame(OpClose, nil)
	}

	c.closeOnce.Do(func() {
		c.markClosed()
		if err == nil {
			c.writeRaw(echo)
		}
		_ = c.netConn.Close()
		if c.handler != nil {
			c.handler.Terminate(c.view, code, "", c.handlerState)
		}
	})
	return true
}

// handleDataFrame implements the fragment-reassembly redesign adopted
// in SPEC_FULL.md section 4.4: individual frames are accumulated and
// only a complete message is dispatched to the Handler.
func (c *Conn) handleDataFrame(f Frame) bool {
	switch f.Opcode {
	case OpContinuation:
		if c.fragment == nil {
			c.opts.Logger.Debug("unexpected continuation frame")
			c.closeWithCode(CloseProtocolError, "Protocol error", true)
			return true
		}
		if c.opts.MaxMessageSize > 0 && c.fragment.buf.Len()+len(f.Payload) > c.opts.MaxMessageSize {
			c.closeWithCode(CloseMessageTooBig, "message too large", true)
			return true
		}
		c.fragment.buf.Write(f.Payload)
		if !f.Fin {
			return false
		}
		opcode := c.fragment.opcode
		payload := append([]byte(nil), c.fragment.buf.Bytes()...)
		c.fragment = nil
		return c.dispatchMessage(opcode, payload)

	default: // OpText, OpBinary
		if c.fragment != nil {
			c.opts.Logger.Debug("data frame interrupted fragmented message")
			c.closeWithCode(CloseProtocolError, "Protocol error", true)
			return true
		}
		if c.opts.MaxMessageSize > 0 && len(f.Payload) > c.opts.MaxMessageSize {
			c.closeWithCode(CloseMessageTooBig, "message too large", true)
			return true
		}
		if f.Fin {
			return c.dispatchMessage(f.Opcode, f.Payload)
		}
		c.fragment = &fragmentState{opcode: f.Opcode}
		c.fragment.buf.Write(f.Payload)
		return false
	}
}

// dispatchMessage validates a reassembled message (UTF-8 for text)
// and invokes the matching Handler callback.
func (c *Conn) dispatchMessage(opcode Opcode, payload []byte) bool {
	if opcode == OpText && !utf8.Valid(payload) {
		c.closeWithCode(CloseInvalidPayloadData, "invalid UTF-8", true)
		return true
	}

	var result Result
	if opcode == OpText {
		result = c.handler.HandleText(c.view, payload, c.handlerState)
	} else {
		result = c.handler.HandleBinary(c.view, payload, c.handlerState)
	}
	return c.applyResult(opcode, result)
}

// applyResult acts on a Handler's returned Result.
func (c *Conn) applyResult(inOpcode Opcode, r Result) bool {
	c.handlerState = r.State
	switch r.Kind {
	case ActionReply:
		frame, err := EncodeFrame(inOpcode, r.ReplyPayload)
		if err != nil {
			c.opts.Logger.Error("reply encode failed", "error", err)
			return false
		}
		c.writeRaw(frame)
		return false
	case ActionClose:
		c.closeWithCode(r.Code, r.Reason, true)
		return true
	default: // ActionContinue
		return false
	}
}

// writeRaw serializes a transport write so frame/handshake bytes from
// different goroutines (inbound processing vs. a Handler calling
// SendText from another goroutine) never interleave.
func (c *Conn) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.netConn.Write(b)
	return err
}

// closeTransportOnly closes the socket without sending a close frame
// or invoking the handler — used for handshake rejection, where no
// WebSocket session was ever established.
func (c *Conn) closeTransportOnly() {
	c.markClosed()
	_ = c.netConn.Close()
}

func (c *Conn) markClosed() {
	c.closeMu.Lock()
	c.state = stateClosed
	c.closed = true
	c.closeMu.Unlock()
}

// closeWithCode sends a close frame, closes the transport, and
// (if notify) invokes Terminate — idempotent via closeOnce so a
// Handler-initiated Close racing with a peer-initiated close only
// takes effect once.
func (c *Conn) closeWithCode(code CloseCode, reason string, notify bool) error {
	var outerErr error
	c.closeOnce.Do(func() {
		c.markClosed()
		frame, err := EncodeClose(code, reason)
		if err != nil {
			outerErr = err
		} else if werr := c.writeRaw(frame); werr != nil {
			outerErr = werr
		}
		_ = c.netConn.Close()
		if notify && c.handler != nil {
			c.handler.Terminate(c.view, code, reason, c.handlerState)
		}
	})
	return outerErr
}

// SendText enqueues a text message. Safe to call from any goroutine,
// including ones other than the connection's own read loop.
func (c *Conn) SendText(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	return c.send(OpText, []byte(s))
}

// SendBinary enqueues a binary message.
func (c *Conn) SendBinary(b []byte) error {
	return c.send(OpBinary, b)
}

func (c *Conn) send(op Opcode, payload []byte) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	frame, err := EncodeFrame(op, payload)
	if err != nil {
		return err
	}
	return c.writeRaw(frame)
}

// Close closes the connection with CloseNormalClosure.
func (c *Conn) Close() error {
	return c.closeWithCode(CloseNormalClosure, "Normal Closure", true)
}

// CloseWithCode closes the connection with a specific status code and
// reason.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	return c.closeWithCode(code, reason, true)
}
