/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "uloget",
	Short: "a circuit-rotating, CAPTCHA-gated segmented downloader",
	Long: `uloget fetches files from anonymizer-gated hosts: it walks the landing
page, rotates an anonymizing circuit between link acquisitions, solves the
CAPTCHA challenge when one is presented, and downloads the target in
parallel segments with resumable progress.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(getCmd)
}
