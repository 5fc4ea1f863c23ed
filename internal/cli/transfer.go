package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sdejongh/remotefs/pkg/compare"
	"github.com/sdejongh/remotefs/pkg/models"
	"github.com/sdejongh/remotefs/pkg/ratelimit"
	"github.com/sdejongh/remotefs/pkg/storage"
	"github.com/sdejongh/remotefs/pkg/transfer"
)

// TransferFlags holds the flags of the transfer commands
type TransferFlags struct {
	NoOverwrite  bool
	Verify       bool
	VerifyMethod string
	Bandwidth    string
	Exclude      []string
}

func (f *TransferFlags) register(cmd *cobra.Command, verify bool) {
	cmd.Flags().BoolVarP(&f.NoOverwrite, "no-clobber", "n", false, "keep existing destination files")
	cmd.Flags().StringVarP(&f.Bandwidth, "bandwidth", "b", "", "bandwidth limit per second (e.g., \"10M\", \"1G\")")
	cmd.Flags().StringSliceVar(&f.Exclude, "exclude", []string{}, "glob patterns to exclude")
	if verify {
		cmd.Flags().BoolVar(&f.Verify, "verify", false, "compare every copied file with its source")
		cmd.Flags().StringVar(&f.VerifyMethod, "verify-method", "", "comparison for --verify: "+methodList()+" (default from config)")
	}
}

func methodList() string {
	list := ""
	for i, m := range compare.Methods() {
		if i > 0 {
			list += ", "
		}
		list += m
	}
	return list
}

// parseBandwidth reads a rate such as "512K" or "10MB" in bytes per second
func parseBandwidth(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth %q: %w", s, err)
	}
	return int64(n), nil
}

// runTransfer executes one operation between two clients and prints its
// report. A failed verification exits with status 1.
func runTransfer(ctx context.Context, s *session, source, dest *storage.Client, op *models.TransferOperation, flags *TransferFlags, printHuman bool) error {
	limit := s.cfg.Transfer.BandwidthLimit
	if flags != nil && flags.Bandwidth != "" {
		var err error
		if limit, err = parseBandwidth(flags.Bandwidth); err != nil {
			return err
		}
	}
	op.ID = uuid.New().String()
	op.ChunkSize = s.cfg.Transfer.ChunkSize
	op.BandwidthLimit = limit
	op.CreatedAt = time.Now()

	options := transfer.Options{Limiter: ratelimit.NewLimiter(limit)}
	if flags != nil {
		options.Exclude = flags.Exclude
		op.Overwrite = !flags.NoOverwrite
		op.Verify = flags.Verify
		if op.Verify {
			method := flags.VerifyMethod
			if method == "" {
				method = s.cfg.Transfer.Verify
			}
			verifier, err := compare.New(method)
			if err != nil {
				return err
			}
			options.Verifier = verifier
		}
	}
	if p := s.progress(); p != nil {
		options.Progress = p
	}

	engine := transfer.NewEngine(source, dest, s.logger, options)
	report, err := engine.Run(ctx, op)
	if report == nil {
		return err
	}
	if printHuman || s.formatter.Name() != "human" {
		if ferr := s.formatter.Report(s.stdout, report); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		return err
	}
	if code := report.Status.ExitCode(); code != 0 {
		return &ExitError{Code: code, Err: fmt.Errorf("verification failed for %d file(s)", len(report.Mismatches))}
	}
	return nil
}

func newTransferCommand(use, short string, action models.Action, verify bool) *cobra.Command {
	var flags TransferFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				var (
					source, dest *storage.Client
					src, dst     location
					err          error
				)
				switch action {
				case models.ActionUpload:
					source, src, err = s.openLocal(ctx, args[0])
				default:
					source, src, err = s.open(ctx, args[0])
				}
				if err != nil {
					return err
				}
				switch action {
				case models.ActionDownload:
					dest, dst, err = s.openLocal(ctx, args[1])
				default:
					dest, dst, err = s.open(ctx, args[1])
				}
				if err != nil {
					return err
				}

				op := &models.TransferOperation{
					Action:        action,
					SourceProfile: src.Profile,
					SourcePath:    src.Path,
					DestProfile:   dst.Profile,
					DestPath:      dst.Path,
				}
				return runTransfer(ctx, s, source, dest, op, &flags, true)
			})
		},
	}
	flags.register(cmd, verify)
	return cmd
}

// NewCopyCommand creates the cp command
func NewCopyCommand() *cobra.Command {
	return newTransferCommand(
		"cp [profile:]source [profile:]dest",
		"Copy files or directory trees, possibly between profiles",
		models.ActionCopy, true)
}

// NewMoveCommand creates the mv command
func NewMoveCommand() *cobra.Command {
	return newTransferCommand(
		"mv [profile:]source [profile:]dest",
		"Move files or directory trees, possibly between profiles",
		models.ActionMove, true)
}

// NewPutCommand creates the put command
func NewPutCommand() *cobra.Command {
	return newTransferCommand(
		"put local-path [profile:]dest",
		"Upload a local file or directory",
		models.ActionUpload, true)
}

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	return newTransferCommand(
		"get [profile:]source local-path",
		"Download a file or directory to the local filesystem",
		models.ActionDownload, true)
}

// NewAppendCommand creates the append command
func NewAppendCommand() *cobra.Command {
	return newTransferCommand(
		"append [profile:]source [profile:]dest",
		"Append the contents of source to dest",
		models.ActionAppend, false)
}

// NewRemoveCommand creates the rm command
func NewRemoveCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm [profile:]path...",
		Short: "Remove files, links or directory trees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				for _, arg := range args {
					c, loc, err := s.open(ctx, arg)
					if err != nil {
						return err
					}
					op := &models.TransferOperation{
						Action:        models.ActionDelete,
						SourceProfile: loc.Profile,
						SourcePath:    loc.Path,
					}
					err = runTransfer(ctx, s, c, c, op, nil, globalFlags.Verbose)
					if force && models.IsNotFound(err) {
						continue
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore missing paths")
	return cmd
}
