package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand assembles the remotefs command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "remotefs",
		Short: "One file interface for local disks, FTP(S), SFTP and MinIO",
		Long: `remotefs lists, reads, writes and transfers files through a single
interface over the local filesystem, FTP/FTPS, SFTP and MinIO buckets.

Paths may be prefixed with a configured profile name, e.g. backup:/srv/data.
Paths without a prefix use the default profile.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add global flags
	AddGlobalFlags(rootCmd)

	// Add commands
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewStatCommand())
	rootCmd.AddCommand(NewTestCommand())
	rootCmd.AddCommand(NewCatCommand())
	rootCmd.AddCommand(NewMkdirCommand())
	rootCmd.AddCommand(NewChmodCommand())
	rootCmd.AddCommand(NewChownCommand())
	rootCmd.AddCommand(NewChecksumCommand())
	rootCmd.AddCommand(NewCopyCommand())
	rootCmd.AddCommand(NewMoveCommand())
	rootCmd.AddCommand(NewPutCommand())
	rootCmd.AddCommand(NewGetCommand())
	rootCmd.AddCommand(NewAppendCommand())
	rootCmd.AddCommand(NewRemoveCommand())
	rootCmd.AddCommand(NewCompareCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}
