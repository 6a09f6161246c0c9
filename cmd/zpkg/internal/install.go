package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/build"
)

var installCmd = &cobra.Command{
	Use:   "install [dir]",
	Short: "Resolve dependencies and generate build files",
	Long: `Install resolves the version, options and dependencies of the descriptor
in dir and writes the toolchain and dependency files, so that the project can
be configured with CMake directly.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	res, err := s.builder.Run(cmd.Context(), build.Request{Dir: descriptorDir(args), Upto: formula.StageGenerate})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "cmake -S %s -B %s -DCMAKE_TOOLCHAIN_FILE=%s\n",
		res.Layout.SourceDir, res.Layout.BuildDir, res.Layout.Toolchain())
	return nil
}
