package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codebuildervaibhav/podcast-animator/internal/config"
	"github.com/codebuildervaibhav/podcast-animator/internal/logging"
	"github.com/codebuildervaibhav/podcast-animator/internal/version"
)

// Dependencies are shared by every command. Config and Logs are filled in
// once flags are parsed.
type Dependencies struct {
	Viper  *viper.Viper
	Config *config.Config
	Logs   *logging.Buffer
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Viper == nil {
		deps.Viper = viper.New()
	}

	var configPath string

	rootCmd := &cobra.Command{
		Use:           "podviz",
		Short:         "Diarize two-person podcasts and animate who is speaking",
		Long:          "podviz splits a stereo podcast into per-second speaker turns, serves an animated playback view and exports it as video.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				if _, err := os.Stat("config/config.yaml"); err == nil {
					configPath = "config/config.yaml"
				}
			}
			cfg, err := config.Load(configPath, deps.Viper)
			if err != nil {
				return err
			}
			logs, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			deps.Config = cfg
			deps.Logs = logs
			return nil
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	bind(deps.Viper, rootCmd.PersistentFlags().Lookup("log-level"), "log.level")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewDiarizeCmd(deps))
	rootCmd.AddCommand(NewExportCmd(deps))
	rootCmd.AddCommand(NewDriveAuthCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func writeLine(w io.Writer, s string) {
	_, _ = io.WriteString(w, s+"\n")
}
