package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	boardURL   string
	cfgFile    string
	jsonOutput bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "board",
	Short: "mutualboard CLI",
	Long: `board is the command-line interface for a mutualboard server.

It creates account ledgers, posts and lists messages, verifies inclusion
proofs and receipts offline, and produces development proofs with a local
notary key.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".board"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("board")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if boardURL == "" {
			boardURL = viper.GetString("url")
		}
		if boardURL == "" {
			boardURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.board/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&boardURL, "url", "", "board server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON output")

	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(accountHashCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(notarizeCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyInclusionCmd)
	rootCmd.AddCommand(receiptCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the board CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("board %s (mutualboard)\n", version)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readProof returns the contents of path with surrounding whitespace removed,
// or stdin when path is "-".
func readProof(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(io.LimitReader(os.Stdin, 8<<20))
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read proof: %w", err)
	}
	return string(bytes.TrimSpace(b)), nil
}
