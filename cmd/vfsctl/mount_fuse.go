//go:build fuse

package main

import (
	"github.com/spf13/cobra"

	"github.com/sixfs/sixfs"
)

func init() {
	rootCmd.AddCommand(mountCmd())
}

func mountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount <container> <mountpoint>",
		Short: "Mount a container as a FUSE filesystem until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := sixfs.Open(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()

			server, err := sixfs.Mount(cmd.Context(), fsys, args[1])
			if err != nil {
				return err
			}
			server.Wait()
			return nil
		},
	}
}
