/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/uloget/uloget/cmd"

func main() {
	cmd.Execute()
}
