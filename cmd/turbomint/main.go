package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TEENet-io/turbomint/cmd"
	"github.com/TEENet-io/turbomint/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "TURBOMINT_CONFIG"
)

func main() {
	var configPath string
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "turbomint",
		Short: "Funding orchestration for the mining, funding and minting pipeline",
		Run: func(c *cobra.Command, args []string) {
			c.Help()
			os.Exit(0)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "configuration file (env "+ENV_CONFIG_FILE_PATH+")")
	flags.BoolVar(&debug, "debug", false, "debug logging")
	flags.String("network", "", "btc network: mainnet, testnet, signet, regtest")
	flags.String("db", "", "sqlite db file")
	flags.Uint("required-outputs", 0, "minting outputs to fund")
	flags.Bool("auto-analyze", false, "analyse funding once the mining tx confirms")
	flags.Bool("force-rescan", false, "repair minting outputs that lack funding references")
	flags.String("http-port", "", "http listen port")
	flags.String("log-file", "", "also write JSON logs to this rotated file")

	// Bind flags to config keys
	for key, flag := range map[string]string{
		cmd.KEY_BTC_CHAIN_CONFIG: "network",
		cmd.KEY_DB_FILE_PATH:     "db",
		cmd.KEY_REQUIRED_OUTPUTS: "required-outputs",
		cmd.KEY_AUTO_ANALYZE:     "auto-analyze",
		cmd.KEY_FORCE_RESCAN:     "force-rescan",
		cmd.KEY_HTTP_PORT:        "http-port",
		cmd.KEY_LOG_FILE:         "log-file",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the turbomint server",
		Run: func(c *cobra.Command, args []string) {
			sc := loadConfig(configPath)
			if sc.LogFile != "" {
				closer := logconfig.ConfigFileLogger(sc.LogFile)
				defer closer.Close()
			} else if debug {
				logconfig.ConfigDebugLogger()
			} else {
				logconfig.ConfigProductionLogger()
			}

			fmt.Println("Starting turbomint server... press Ctrl+C to kill the server")
			cmd.StartServerAndWait(sc)
		},
	}

	configCmd := &cobra.Command{
		Use:   "showconf",
		Short: "Print the config state and exit",
		Run: func(c *cobra.Command, args []string) {
			sc := loadConfig(configPath)
			o, _ := json.MarshalIndent(sc, ">", " ")
			fmt.Println(string(o))
		},
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads env vars, then the config file if one is given.
func loadConfig(configPath string) *cmd.ServerConfig {
	viper.AutomaticEnv()
	cmd.SetDefaults(viper.GetViper())

	if configPath == "" {
		configPath = viper.GetString(ENV_CONFIG_FILE_PATH)
	}
	if configPath != "" {
		if !cmd.FileExists(configPath) {
			fmt.Printf("configuration file not found: %s\n", configPath)
			os.Exit(1)
		}
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Printf("Error reading configuration file, %s\n", err)
			os.Exit(1)
		}
	}

	sc, err := cmd.PrepareServerConfig(viper.GetViper())
	if err != nil {
		fmt.Printf("Error loading configuration: %s\n", err)
		os.Exit(1)
	}
	return sc
}
