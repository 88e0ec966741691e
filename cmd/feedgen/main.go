// Command feedgen writes synthetic shards and inspects shard directories
// offline.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxiifeed/internal/feed"
	"taxiifeed/internal/generator"
	"taxiifeed/internal/paging"
	"taxiifeed/internal/shard"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var dataDir string
	var verbose bool

	root := &cobra.Command{
		Use:          "feedgen",
		Short:        "Generate and inspect STIX shard directories",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "./data", "shard directory")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log skipped shards and writes")

	logger := func() *zap.Logger {
		if !verbose {
			return zap.NewNop()
		}
		l, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return l
	}

	root.AddCommand(
		newGenerateCmd(&dataDir, logger),
		newInspectCmd(&dataDir, logger),
		newCursorCmd(),
	)
	return root
}

func newGenerateCmd(dataDir *string, logger func() *zap.Logger) *cobra.Command {
	var shards, minCount, maxCount int
	var sourceSystem string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic shards into the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			synth := generator.NewSynthetic(minCount, maxCount)
			synth.SourceSystem = sourceSystem
			sched := generator.NewScheduler(generator.NewDirStore(*dataDir, logger()), 0, logger())
			sched.Register(synth)

			for i := 0; i < shards; i++ {
				paths, err := sched.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&shards, "shards", "n", 1, "number of shards to write")
	cmd.Flags().IntVar(&minCount, "min", 10, "minimum indicators per shard")
	cmd.Flags().IntVar(&maxCount, "max", 25, "maximum indicators per shard")
	cmd.Flags().StringVar(&sourceSystem, "source-system", generator.DefaultSourceSystem, "sourcesystem written into each shard")
	return cmd
}

func newInspectCmd(dataDir *string, logger func() *zap.Logger) *cobra.Command {
	var since, types string
	var pageSize int
	var cursor string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Merge the data directory and print one page with its validators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := feed.NewScanSource(shard.NewReader(*dataDir, logger()))
			svc := feed.NewService(src, feed.Limits{}, logger())
			page, err := svc.Search(cmd.Context(), feed.Query{
				Since:    since,
				Types:    feed.ParseTypes(types),
				PageSize: pageSize,
				Cursor:   cursor,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "total:         %d\n", page.Total)
			fmt.Fprintf(w, "etag:          %s\n", page.Validators.ETag)
			fmt.Fprintf(w, "last-modified: %s\n", page.Validators.LastModifiedHeader())
			fmt.Fprintf(w, "snapshot:      %s\n", page.Snapshot)
			for _, obj := range page.Objects {
				ts, _ := obj.Timestamp()
				fmt.Fprintf(w, "%s\t%s\t%s\n", ts, obj.Type, obj.ID)
			}
			if page.More {
				fmt.Fprintf(w, "next:          %s\n", page.Next)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only objects at or after this timestamp")
	cmd.Flags().StringVar(&types, "types", "", "comma-separated object types")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "objects per page")
	cmd.Flags().StringVar(&cursor, "next", "", "cursor from a previous page")
	return cmd
}

func newCursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Encode or decode pagination cursors",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "encode <offset>",
		Short: "Print the cursor for an offset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("offset must be an integer: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), paging.Encode(n))
			return nil
		},
	}, &cobra.Command{
		Use:   "decode <cursor>",
		Short: "Print the offset a cursor refers to; malformed cursors decode to 0",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), paging.Decode(args[0]))
			return nil
		},
	})
	return cmd
}
