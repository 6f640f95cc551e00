package cmd

// DefaultConfigName is the configuration file looked up when --config is
// not given.
const DefaultConfigName = "warden.toml"

const (
	configFlag   = "config"
	logFileFlag  = "log-file"
	logLevelFlag = "loglevel"
	watchFlag    = "watch"
	dumpFlag     = "dump"
)

// CLI flags to initialize
func init() {
	runCmd.Flags().StringP(configFlag, "c", "", "Path to the configuration file. Defaults to ./"+DefaultConfigName+", then the XDG config directories.")
	runCmd.Flags().String(logFileFlag, "warden.log", "Path of the append-mode log file.")
	runCmd.Flags().String(logLevelFlag, "info", "Initial log level [trace, debug, info, warn, error]. The config file and the loglevel command override it at runtime.")
	runCmd.Flags().Bool(watchFlag, false, "Watch the configuration file and reload on change, in addition to SIGHUP.")

	checkCmd.Flags().StringP(configFlag, "c", "", "Path to the configuration file. Defaults to ./"+DefaultConfigName+", then the XDG config directories.")
	checkCmd.Flags().Bool(dumpFlag, false, "Dump every normalized program spec after validation.")
}
