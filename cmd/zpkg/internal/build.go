package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenplay/zpkg/internal/build"
)

var buildCmd = &cobra.Command{
	Use:   "build [dir]",
	Short: "Build and package without publishing",
	Long:  `Build runs the pipeline up to packaging. The package folder is left in the build directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	res, err := s.builder.Run(cmd.Context(), build.Request{Dir: descriptorDir(args)})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Layout.PackageDir)
	return nil
}
