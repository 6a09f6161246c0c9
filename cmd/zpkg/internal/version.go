package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version [dir]",
	Short: "Print the resolved package version",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	res, err := s.builder.Run(cmd.Context(), build.Request{Dir: descriptorDir(args), Upto: formula.StageVersion})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Descriptor.Version)
	return nil
}
