// Command rpcdispatchd serves a demo JSON-RPC service over websocket and HTTP
// and inspects its registered methods.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rpcdispatch/config"
)

var (
	configPath string
	jsonOutput bool
	noColor    bool

	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	keyColor     = color.New(color.FgYellow)
)

var rootCmd = &cobra.Command{
	Use:   "rpcdispatchd",
	Short: "JSON-RPC 2.0 dispatch server",
	Long: `rpcdispatchd runs a JSON-RPC 2.0 dispatch engine over websocket and HTTP.

Configuration is read from a YAML or JSON file and RPC_* environment
variables. A .env file in the working directory is loaded first.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(methodsCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(configCmd)

	cobra.OnInitialize(func() {
		if noColor {
			color.NoColor = true
		}
	})
}

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd.ErrOrStderr(), err.Error())
		os.Exit(1)
	}
}

// loadConfig reads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func printJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printError(w io.Writer, msg string) {
	if noColor {
		fmt.Fprintln(w, "Error:", msg)
		return
	}
	errorColor.Fprint(w, "✗ Error: ")
	fmt.Fprintln(w, msg)
}
