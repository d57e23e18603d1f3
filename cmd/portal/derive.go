package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Print the account address of the configured key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := loadKey()
		if err != nil {
			return err
		}
		fmt.Println(crypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	},
}
