// Command vfsctl creates, inspects, and manipulates sixfs containers from
// the shell.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sixfs/sixfs"
)

var rootCmd = &cobra.Command{
	Use:           "vfsctl",
	Short:         "Inspect and manipulate sixfs containers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vfsctl:", err)
		os.Exit(1)
	}
}

func openContainer(path string) (*sixfs.Filesystem, error) {
	return sixfs.Open(path)
}

func init() {
	rootCmd.AddCommand(
		createCmd(),
		mkdirCmd(),
		lsCmd(),
		catCmd(),
		putCmd(),
		mvCmd(),
		cpCmd(),
		rmCmd(),
		statCmd(),
		fsckCmd(),
		backupCmd(),
		restoreCmd(),
	)
}

func parseCodec(name string) (sixfs.Codec, error) {
	switch name {
	case "flate":
		return sixfs.CodecFlate, nil
	case "xz":
		return sixfs.CodecXZ, nil
	default:
		return 0, fmt.Errorf("unknown codec %q (want flate or xz)", name)
	}
}

func backupCmd() *cobra.Command {
	var codec string
	cmd := &cobra.Command{
		Use:   "backup <container> <snapshot>",
		Short: "Write a compressed snapshot of a container file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCodec(codec)
			if err != nil {
				return err
			}
			return sixfs.Backup(args[0], args[1], c)
		},
	}
	cmd.Flags().StringVar(&codec, "codec", "flate", "compression codec: flate or xz")
	return cmd
}

func restoreCmd() *cobra.Command {
	var codec string
	cmd := &cobra.Command{
		Use:   "restore <snapshot> <container>",
		Short: "Reconstruct a container file from a compressed snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCodec(codec)
			if err != nil {
				return err
			}
			return sixfs.Restore(args[0], args[1], c)
		},
	}
	cmd.Flags().StringVar(&codec, "codec", "flate", "compression codec: flate or xz")
	return cmd
}

func createCmd() *cobra.Command {
	var pageSize, inodes, blocks uint64
	cmd := &cobra.Command{
		Use:   "create <container> [path...]",
		Short: "Format a new container, optionally seeding it with host files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []sixfs.CreateOption{}
			if pageSize != 0 {
				opts = append(opts, sixfs.WithPageSize(pageSize))
			}
			if inodes != 0 {
				opts = append(opts, sixfs.WithInodeCount(inodes))
			}
			if blocks != 0 {
				opts = append(opts, sixfs.WithMaxBlocks(blocks))
			}
			fsys, err := sixfs.Create(args[0], opts...)
			if err != nil {
				return err
			}
			defer fsys.Close()

			for _, hostPath := range args[1:] {
				data, err := os.ReadFile(hostPath)
				if err != nil {
					return err
				}
				h, err := fsys.OpenFile("/"+hostPath, sixfs.ModeRW, true)
				if err != nil {
					return err
				}
				if _, err := h.Write(data); err != nil {
					h.Close()
					return err
				}
				if err := h.Close(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&pageSize, "page-size", 0, "override the default page size")
	cmd.Flags().Uint64Var(&inodes, "inodes", 0, "override the default inode count")
	cmd.Flags().Uint64Var(&blocks, "blocks", 0, "override the default data block count")
	return cmd
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <container> <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openContainer(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			return fsys.MakeDir(args[1])
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <container> <path>",
		Short: "List a directory's entries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openContainer(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			entries, err := fsys.ReadDir(args[1], nil)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Println(e)
			}
			return nil
		},
	}
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <container> <path>",
		Short: "Print a file's contents to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openContainer(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			h, err := fsys.OpenFile(args[1], sixfs.ModeRO, false)
			if err != nil {
				return err
			}
			defer h.Close()
			_, err = io.Copy(os.Stdout, readerFunc(h.Read))
			return err
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <container> <host-file> <path>",
		Short: "Write a host file's contents into the container, creating it if needed",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openContainer(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			h, err := fsys.OpenFile(args[2], sixfs.ModeRW, true)
			if err != nil {
				return err
			}
			defer h.Close()
			if err := h.Truncate(); err != nil {
				return err
			}
			_, err = h.Write(data)
			return err
		},
	}
}

func mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <container> <src> <dest>",
		Short: "Move (rename) an entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openContainer(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			return fsys.Move(args[1], args[2])
		},
	}
}

func cpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <container> <src> <dest>",
		Short: "Recursively copy a file or directory tree",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openContainer(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			return fsys.Copy(args[1], args[2])
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <container> <path>",
		Short: "Remove an entry, reclaiming its subtree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openContainer(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			return fsys.Remove(args[1])
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <container> <path>",
		Short: "Print size and modification time for an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openContainer(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			h, err := fsys.OpenFile(args[1], sixfs.ModeRO, false)
			if err != nil {
				return err
			}
			defer h.Close()
			size, err := h.Size()
			if err != nil {
				return err
			}
			mtime, err := h.ModifiedAt()
			if err != nil {
				return err
			}
			kind := "file"
			if h.IsDir() {
				kind = "dir"
			}
			fmt.Printf("%s\t%s\tsize=%d\tmodified=%s\n", args[1], kind, size, mtime)
			return nil
		},
	}
}

func fsckCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "fsck <container>",
		Short: "Scan for leaked blocks and orphaned inodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openContainer(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			report, err := fsys.Fsck(repair)
			if err != nil {
				return err
			}
			fmt.Printf("inodes scanned:    %d\n", report.InodesScanned)
			fmt.Printf("leaked blocks:     %d (freed %d)\n", report.LeakedBlocks, report.LeakedBlocksFreed)
			fmt.Printf("orphaned inodes:   %d (freed %d)\n", report.OrphanedInodes, report.OrphanedInodesFreed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "free leaked blocks and reclaim orphaned inodes")
	return cmd
}

// readerFunc adapts a Read method value to io.Reader for io.Copy. A
// Handle reports end of file as (0, nil); that is turned into io.EOF.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) {
	n, err := f(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}
