package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/pepnova9/gows"
)

func main() {
	cmd := &cli.Command{
		Name:  "gows-server",
		Usage: "standalone echo server built on the gows WebSocket library",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: ":8080",
				Usage: "address to listen on",
			},
			&cli.IntFlag{
				Name:  "max-message-size",
				Value: defaultMaxMessageSize,
				Usage: "maximum reassembled message size in bytes, a negative value disables the check",
			},
			&cli.StringSliceFlag{
				Name:  "subprotocol",
				Usage: "subprotocol to offer during negotiation (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "human-readable console logging, instead of JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger := initLog(cmd.Bool("dev"))
			slog.SetDefault(logger)

			addr := cmd.String("addr")
			opts := &gows.ConnOptions{
				Subprotocols:   cmd.StringSlice("subprotocol"),
				MaxMessageSize: int(cmd.Int("max-message-size")),
				Logger:         logger,
			}

			ln, err := gows.Listen(addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			logger.Info("listening", "addr", ln.Addr().String())

			return gows.ServeListener(ctx, ln, &echoHandler{}, opts)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

const defaultMaxMessageSize = 32 * 1024 * 1024

// initLog builds the process-wide structured logger, following the
// same dev/prod split as the rest of this codebase's ambient stack:
// a human-readable text handler on stdout for local development, a
// JSON handler on stderr otherwise.
func initLog(devMode bool) *slog.Logger {
	var handler slog.Handler
	if devMode {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return slog.New(handler)
}

// echoHandler sends every reassembled message straight back to its
// sender, mirroring the behavior of pepnova-9-go-websocket-server's
// handleConnection loop — the reference this whole library grew out
// of — reimplemented here on top of the Handler interface instead of
// inline in the connection loop.
type echoHandler struct {
	gows.BaseHandler
}

func (echoHandler) Init(view *gows.ConnView, _ any) (any, error) {
	slog.Debug("connection opened", "conn", view.ID, "remote", view.RemoteAddr, "path", view.Path)
	return nil, nil
}

func (echoHandler) HandleText(_ *gows.ConnView, payload []byte, state any) gows.Result {
	return gows.Reply(payload, state)
}

func (echoHandler) HandleBinary(_ *gows.ConnView, payload []byte, state any) gows.Result {
	return gows.Reply(payload, state)
}

func (echoHandler) Terminate(view *gows.ConnView, code gows.CloseCode, reason string, _ any) {
	slog.Debug("connection closed", "conn", view.ID, "code", code, "reason", reason)
}
