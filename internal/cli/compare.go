package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sdejongh/remotefs/pkg/compare"
	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/ratelimit"
)

// streamingComparator is implemented by comparators that read file contents
type streamingComparator interface {
	SetProgressCallback(callback compare.ProgressFunc)
	SetChunkWrapper(wrapper compare.ChunkWrapper)
}

// NewCompareCommand creates the cmp command
func NewCompareCommand() *cobra.Command {
	var method, bandwidth string
	cmd := &cobra.Command{
		Use:   "cmp [profile:]source [profile:]dest",
		Short: "Compare two files, possibly on different profiles",
		Long: `Compare two files and report whether they are the same.
Exits with status 0 when they match and 1 when they differ.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				comparator, err := compare.New(method)
				if err != nil {
					return err
				}
				limit := s.cfg.Transfer.BandwidthLimit
				if bandwidth != "" {
					if limit, err = parseBandwidth(bandwidth); err != nil {
						return err
					}
				}
				if sc, ok := comparator.(streamingComparator); ok {
					limiter := ratelimit.NewLimiter(limit)
					sc.SetChunkWrapper(func(it *content.Iterator) *content.Iterator {
						return ratelimit.Chunks(ctx, it, limiter)
					})
					if p := s.progress(); p != nil {
						sc.SetProgressCallback(p.Hashing)
					}
				}

				source, src, err := s.open(ctx, args[0])
				if err != nil {
					return err
				}
				dest, dst, err := s.open(ctx, args[1])
				if err != nil {
					return err
				}

				result, err := comparator.Compare(ctx, source, dest, src.Path, dst.Path)
				if err != nil {
					return err
				}
				if err := s.formatter.Comparison(s.stdout, comparator.Name(), result); err != nil {
					return err
				}
				switch result.Result {
				case compare.Same:
					return nil
				case compare.Error:
					return &ExitError{Code: 2, Err: result.Error}
				default:
					return &ExitError{Code: 1}
				}
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "md5", "comparison method: "+methodList())
	cmd.Flags().StringVarP(&bandwidth, "bandwidth", "b", "", "bandwidth limit per second while reading")
	return cmd
}
