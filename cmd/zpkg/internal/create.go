package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenplay/zpkg/internal/build"
)

var createCmd = &cobra.Command{
	Use:   "create [dir]",
	Short: "Build, package and publish a package",
	Long: `Create runs the whole pipeline for the descriptor in dir (default: the
current directory) and publishes the package and its recipe to the registry,
where other descriptors can depend on it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	res, err := s.builder.Run(cmd.Context(), build.Request{Dir: descriptorDir(args), Publish: true})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", res.Descriptor.Ref(), res.PackageID)
	return nil
}
