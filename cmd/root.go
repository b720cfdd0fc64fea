package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dSock/cmd/bench"
	"github.com/ValentinKolb/dSock/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dsock",
		Short: "asynchronous socket server",
		Long: fmt.Sprintf(`dSock (v%s)

An asynchronous socket server and client library written in Go.
Read completions are delivered by a pool of boss goroutines and
handed to a drain worker through a lock-free ring buffer when all
of them are busy.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dSock",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dSock v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
