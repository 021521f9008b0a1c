// Package main provides mrkeygen, a command-line tool for minting the
// Ed25519 identities a miniroha deployment needs before genesis:
// validator keys and account keys, in the same "ed25519:"-prefixed
// base58 encoding the ledger itself uses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miniroha/miniroha/crypto"
)

var outPath string

var rootCmd = &cobra.Command{
	Use:   "mrkeygen",
	Short: "Generate miniroha Ed25519 keypairs",
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new keypair and print it (or write the private key to a file)",
	Run: func(cmd *cobra.Command, args []string) {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		privEncoded := crypto.EncodePrivateKey(kp.PrivateKey)
		pubEncoded := crypto.EncodePublicKey(kp.PublicKey)

		if outPath != "" {
			if err := os.WriteFile(outPath, []byte(privEncoded), 0600); err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("public_key: %s\n", pubEncoded)
			fmt.Printf("private key written to %s\n", outPath)
			return
		}

		fmt.Printf("public_key:  %s\n", pubEncoded)
		fmt.Printf("private_key: %s\n", privEncoded)
	},
}

func init() {
	generateCmd.Flags().StringVar(&outPath, "out", "", "write the private key to this file instead of printing it")
	rootCmd.AddCommand(generateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
