// Package main provides the entry point for the miniroha validator
// daemon.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miniroha/miniroha/api"
	"github.com/miniroha/miniroha/node"
)

var rootCmd = &cobra.Command{
	Use:   "miniroha",
	Short: "miniroha permissioned ledger node",
	Long:  "A command-line tool for running a miniroha validator node.",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the validator node",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := node.LoadConfig()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		n, err := node.New(cfg)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if err := n.Start(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		server := api.NewServer(n, ":"+cfg.Port)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("api server: %v", err)
			}
		}()
		log.Printf("miniroha node %s listening on :%s", cfg.NodeID, cfg.Port)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Printf("shutting down")
		_ = server.Close()
		if err := n.Stop(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
