package gows

import (
	"context"
	"errors"
	"net"

	"golang.org/x/sync/errgroup"
)

// Listen opens a raw TCP listener for a WebSocket endpoint. addr may
// use ":0" / "127.0.0.1:0" to bind an ephemeral port, which is useful
// for tests — read back the real address with ln.Addr().
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// ServeListener runs the accept loop: it hands each accepted
// connection to Serve in its own goroutine (one task per connection,
// per spec section 9's design note) and supervises them with an
// errgroup. When ctx is canceled the listener is closed and
// ServeListener returns once every spawned Serve call has returned;
// connections already being served are not closed by the
// cancellation. Any other accept error is returned at once, without
// closing the listener or waiting for the spawned Serve calls.
//
// This is the accept loop spec section 1 calls out as an external
// collaborator — it's included here as a runnable reference the way
// pepnova-9-go-websocket-server's startServer was, not as a component
// the core protocol logic depends on.
func ServeListener(ctx context.Context, ln net.Listener, handler Handler, opts *ConnOptions) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			return err
		}
		g.Go(func() error {
			return Serve(conn, handler, opts)
		})
	}

	return g.Wait()
}

// ListenAndServe binds addr and serves WebSocket connections on it
// until ctx is canceled. It is the concrete form of the "listener
// started with (port, handler_module)" configuration surface from
// spec section 6.
func ListenAndServe(ctx context.Context, addr string, handler Handler, opts *ConnOptions) error {
	ln, err := Listen(addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, handler, opts)
}
