// cmd constructs the warden command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/adrg/xdg"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wardend/warden/config"
	"github.com/wardend/warden/logging"
	"github.com/wardend/warden/supervisor"
	"github.com/wardend/warden/tui"
)

var wardenCmd = &cobra.Command{
	Use:   "warden",
	Short: "A process supervisor that keeps configured programs running against their declared policy.",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the configuration, start auto programs and supervise them interactively.",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Parse and validate a configuration file without starting anything.",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

// SetupCLI constructs the cobra hierarchy of the warden CLI.
func SetupCLI() *cobra.Command {
	wardenCmd.AddCommand(runCmd)
	wardenCmd.AddCommand(checkCmd)
	return wardenCmd
}

// resolveConfigPath picks the configuration file: the flag when given, a
// warden.toml in the working directory, or the XDG config search path.
func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if _, err := os.Stat(DefaultConfigName); err == nil {
		return DefaultConfigName, nil
	}
	if path, err := xdg.SearchConfigFile("warden/" + DefaultConfigName); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no configuration file: pass --%s or create %s", configFlag, DefaultConfigName)
}

// runRun defines what happens on `warden run`.
func runRun(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	cfgFlag, _ := fs.GetString(configFlag)
	logFile, _ := fs.GetString(logFileFlag)
	levelName, _ := fs.GetString(logLevelFlag)
	watch, _ := fs.GetBool(watchFlag)

	cfgPath, err := resolveConfigPath(cfgFlag)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logger, filter, err := logging.New(logFile, level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(cfgPath, logger)
	if err != nil {
		logger.Error("parsing the configuration file",
			zap.String("path", cfgPath),
			zap.Error(err))
		return err
	}
	cfg.SetFilter(&filter)

	surface := tui.New(os.Stdin, os.Stdout, logger)
	sup := supervisor.New(cfg, cfgPath, surface, logger)
	sup.InstallReloadSignal()
	if watch {
		if err := sup.WatchConfig(); err != nil {
			logger.Warn("could not watch the configuration file", zap.Error(err))
		}
	}
	return sup.Run()
}

// runCheck defines what happens on `warden check`.
func runCheck(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	cfgFlag, _ := fs.GetString(configFlag)
	dump, _ := fs.GetBool(dumpFlag)

	cfgPath, err := resolveConfigPath(cfgFlag)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath, zap.NewNop())
	if err != nil {
		return fmt.Errorf("%s: %w", cfgPath, err)
	}

	fmt.Printf("%s: configuration OK, %d programs, loglevel %s\n",
		cfgPath, len(cfg.Programs), logging.LevelName(cfg.LogLevel))
	if dump {
		for _, p := range cfg.Programs {
			spew.Dump(p.Spec)
		}
	}
	return nil
}
