package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Skryldev/image-responsive/utils"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe FILE...",
		Short: "Print the natural size and format of images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, cleanup, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			failed := 0
			for _, path := range args {
				desc, err := proc.Probe(cmd.Context(), path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(tw, "%s\t%dx%d\t%s\t%s\n", path, desc.Width, desc.Height, desc.Format, sniff(path))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be probed", failed, len(args))
			}
			return nil
		},
	}
}

// sniff reports the format implied by the file's magic bytes.
func sniff(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "unknown"
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return utils.DetectFormat(head[:n])
}
