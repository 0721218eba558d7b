package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muk365/whiteboard/internal/discovery"
)

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List whiteboard servers advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			peers, err := discovery.Browse(timeout)
			if err != nil {
				return fmt.Errorf("browse: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(peers) == 0 {
				fmt.Fprintln(out, "no servers found")
				return nil
			}
			for _, p := range peers {
				fmt.Fprintf(out, "%s\tws://%s\n", p.Instance, p.Addr)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "How long to listen for answers")
	return cmd
}
