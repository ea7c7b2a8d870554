package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// professorColumns lead the professors CSV; remaining fields follow sorted.
var professorColumns = []string{"id", "legacyId", "firstName", "lastName", "department", "schoolId", "schoolName"}

func newProfessorsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "professors <start> <end> <out.csv>",
		Short: "Collect every professor of the school ids in [start, end)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("start %q: %w", args[0], err)
			}
			end, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("end %q: %w", args[1], err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runProfessors(ctx, cmd, v, start, end, args[2])
		},
	}
}

func runProfessors(ctx context.Context, cmd *cobra.Command, v *viper.Viper, start, end int, out string) error {
	s, err := openSession(ctx, cmd, v)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.harvester.Professors(ctx, start, end, s.collector, s.progress())
	if err != nil {
		return err
	}
	return s.finish(ctx, res, out, professorColumns)
}
