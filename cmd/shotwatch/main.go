package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/PratikDhanave/shotlog/internal/logging"
)

var (
	baseURL    string
	apiKey     string
	jsonOutput bool
	logLevel   string
)

func defaultBaseURL() string {
	if s := os.Getenv("SHOTLOG_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:          "shotwatch <command>",
	Short:        "Watch and record shots on a shotlog server",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{Level: logLevel, Format: "console"})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", defaultBaseURL(), "server base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("API_KEY"), "device API key (send only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
