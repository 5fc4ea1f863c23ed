package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sdejongh/remotefs/pkg/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View or modify remotefs configuration and connection profiles.`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyFlagsToConfig(cfg)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Profiles:\n")
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			for _, name := range cfg.ProfileNames() {
				p := cfg.Profiles[name]
				marker := " "
				if name == cfg.DefaultProfile {
					marker = "*"
				}
				fmt.Fprintf(tw, "  %s %s\t%s\t%s\n", marker, name, p.Backend, profileTarget(p))
			}
			tw.Flush()
			fmt.Fprintf(w, "Chunk Size: %d\n", cfg.Transfer.ChunkSize)
			fmt.Fprintf(w, "Bandwidth Limit: %d\n", cfg.Transfer.BandwidthLimit)
			fmt.Fprintf(w, "Verify Method: %s\n", cfg.Transfer.Verify)
			fmt.Fprintf(w, "Legacy Copy: %v\n", cfg.Transfer.LegacyCopy)
			fmt.Fprintf(w, "Output Format: %s\n", cfg.Output.Format)
			fmt.Fprintf(w, "Logging: %v\n", cfg.Logging.Enabled)
			fmt.Fprintf(w, "Log Format: %s\n", cfg.Logging.Format)
			fmt.Fprintf(w, "Log Level: %s\n", cfg.Logging.Level)

			return nil
		},
	}
}

// profileTarget describes where a profile points without its secrets
func profileTarget(p config.Profile) string {
	switch {
	case p.FTP != nil && p.Backend == config.BackendFTP:
		scheme := "ftp"
		if p.FTP.Secure {
			scheme = "ftps"
		}
		return fmt.Sprintf("%s://%s@%s", scheme, p.FTP.Username, p.FTP.Host)
	case p.SFTP != nil && p.Backend == config.BackendSFTP:
		return fmt.Sprintf("sftp://%s@%s", p.SFTP.Username, p.SFTP.Host)
	case p.MinIO != nil && p.Backend == config.BackendMinIO:
		return fmt.Sprintf("%s/%s/%s", p.MinIO.Endpoint, p.MinIO.Bucket, p.MinIO.Prefix)
	case p.Local != nil && p.Local.Cwd != "":
		return p.Local.Cwd
	}
	return "-"
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigFile
			if path == "" {
				var err error
				if path, err = config.DefaultConfigPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if err := config.SaveToFile(cfg, path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
