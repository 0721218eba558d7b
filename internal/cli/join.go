package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muk365/whiteboard/internal/client"
	"github.com/muk365/whiteboard/internal/config"
	"github.com/muk365/whiteboard/internal/protocol"
	"github.com/muk365/whiteboard/internal/reconciler"
)

func newJoinCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "join <url> <room> <name>",
		Short: "Join a room and print what happens in it",
		Long:  "join connects to a whiteboard server as a participant, mirrors the room into a local view and prints roster, object and cursor changes until interrupted.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var view *reconciler.View
			out := cmd.OutOrStdout()
			c, err := client.Dial(ctx, args[0], args[1], args[2], client.Options{
				Logger: logger,
				OnMessage: func(msg protocol.Message) {
					printEvent(out, view, msg)
				},
			})
			if err != nil {
				return err
			}
			view = c.View()
			defer c.Close()

			fmt.Fprintf(out, "joined %s as %s\n", args[1], args[2])
			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func printEvent(w io.Writer, view *reconciler.View, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.CanvasLoad:
		fmt.Fprintf(w, "canvas loaded: %d objects\n", len(m.Objects))
	case protocol.UsersUpdate:
		fmt.Fprintf(w, "in room: %v\n", m.Names)
	case protocol.ObjectCreated:
		fmt.Fprintf(w, "+ %s (%d objects)\n", m.Object.ID, len(view.Objects()))
	case protocol.ObjectModified:
		fmt.Fprintf(w, "~ %s\n", m.Object.ID)
	case protocol.ObjectRemoved:
		fmt.Fprintf(w, "- %s (%d objects)\n", m.ID, len(view.Objects()))
	case protocol.CanvasClear:
		fmt.Fprintln(w, "canvas cleared")
	case protocol.CursorUpdate:
		fmt.Fprintf(w, "cursor %s %s at (%.0f, %.0f)\n", m.DisplayName, reconciler.CursorColor(m.ClientID), m.X, m.Y)
	case protocol.CursorRemove:
		fmt.Fprintf(w, "cursor %s gone\n", m.ClientID)
	}
}
