// quarto runs the Quarto room server and a terminal client.
//
// Usage:
//
//	quarto serve             - Start the room server
//	quarto play              - Play in the terminal against a server
//
// Global flags:
//
//	--config <path>  - Path to a YAML config file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagConfig string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quarto",
	Short: "Quarto - two-player board game with online rooms",
	Long: `Quarto is a two-player board game played over shared rooms.

One player runs (or both players point at) a room server:

  quarto serve

Each player then joins from a terminal:

  quarto play

Inside play, "create" opens a room and prints a 4-letter code; the other
player enters "join <code>". A closed terminal can pick its game back up
with "resume".`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default: ~/.quarto/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(playCmd)
}
