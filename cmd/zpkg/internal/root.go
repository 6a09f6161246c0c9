package internal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/build"
	"github.com/zenplay/zpkg/internal/env"
	"github.com/zenplay/zpkg/internal/registry"
)

var (
	flagSettings []string
	flagOptions  []string
	flagProfile  string
	flagRegistry string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "zpkg",
	Short: "zpkg builds and packages C/C++ projects",
	Long: `zpkg reads a package descriptor (zpkg.toml or zpkg.yaml), resolves its
version, options and dependencies, generates CMake toolchain and dependency
files, drives the CMake build and packages the result.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringArrayVarP(&flagSettings, "setting", "s", nil, "Setting override, e.g. -s build_type=Debug (repeatable)")
	pf.StringArrayVarP(&flagOptions, "option", "o", nil, "Option override [dep:]name=value, e.g. -o ffmpeg:shared=True (repeatable)")
	pf.StringVar(&flagProfile, "profile", "", "Descriptor profile to apply")
	pf.StringVar(&flagRegistry, "registry", "", "Registry directory (default $ZPKG_HOME/registry)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error(err)
		stop()
		os.Exit(1)
	}
}

// session is what every pipeline command needs.
type session struct {
	logger   *log.Logger
	registry *registry.Local
	builder  *build.Builder
	config   *env.Config
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, cfgPath, err := env.Load()
	if err != nil {
		return nil, err
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "zpkg"})
	if flagVerbose || cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}
	if cfgPath != "" {
		logger.Debug("loaded config", "path", cfgPath)
	}

	settings, err := parseSettings(cfg.Settings, flagSettings)
	if err != nil {
		return nil, err
	}
	overrides, err := parseOverrides(flagOptions)
	if err != nil {
		return nil, err
	}
	regDir := cfg.Registry
	if flagRegistry != "" {
		regDir = flagRegistry
	}
	reg, err := registry.Open(regDir, cfg.RecipePaths...)
	if err != nil {
		return nil, err
	}
	profile := cfg.Profile
	if flagProfile != "" {
		profile = flagProfile
	}

	b := build.NewBuilder(build.Options{
		Registry:       reg,
		Logger:         logger,
		Settings:       settings,
		Overrides:      overrides,
		Profile:        profile,
		Stdout:         cmd.OutOrStdout(),
		Stderr:         cmd.ErrOrStderr(),
		NewBuildSystem: build.NativeBuildSystem(cfg.Jobs),
	})
	return &session{logger: logger, registry: reg, builder: b, config: cfg}, nil
}

// parseSettings lays the configured settings and then the -s flags over
// the host settings.
func parseSettings(configured map[string]string, flags []string) (formula.Settings, error) {
	s := formula.HostSettings()
	for k, v := range configured {
		if err := s.Set(k, v); err != nil {
			return s, err
		}
	}
	for _, kv := range flags {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return s, fmt.Errorf("invalid setting %q, want key=value", kv)
		}
		if err := s.Set(k, v); err != nil {
			return s, err
		}
	}
	return s, s.Validate()
}

func parseOverrides(flags []string) (formula.OptionMatrix, error) {
	m := formula.OptionMatrix{}
	for _, a := range flags {
		dep, name, value, err := formula.ParseAssignment(a)
		if err != nil {
			return nil, err
		}
		if m[dep] == nil {
			m[dep] = map[string]string{}
		}
		m[dep][name] = value
	}
	return m, nil
}

// descriptorDir returns the descriptor location named by args, or the
// current directory.
func descriptorDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
