package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/rmp-harvest/pkg/harvest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// reviewColumns lead the reviews CSV.
var reviewColumns = []string{"id", "profId"}

func newReviewsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reviews <professors.csv> <out.csv>",
		Short: "Collect every review of the professors listed in a CSV",
		Long: `Collect every review of the professors listed in a CSV.

The input needs an "id" column holding either numeric professor ids or
encoded Teacher references; an optional "numRatings" column sizes the
first page request. A professors CSV written by this tool, or a file
written with --failed-out, can be fed back as is.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readItemsFile(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReviews(ctx, cmd, v, items, args[1])
		},
	}
}

func readItemsFile(path string) ([]harvest.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	items, err := harvest.ReadItems(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return items, nil
}

func runReviews(ctx context.Context, cmd *cobra.Command, v *viper.Viper, items []harvest.Item, out string) error {
	s, err := openSession(ctx, cmd, v)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.harvester.Reviews(ctx, items, s.collector, s.progress())
	if err != nil {
		return err
	}
	return s.finish(ctx, res, out, reviewColumns)
}
