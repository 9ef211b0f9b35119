package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ymorita/restrack/internal/cli"
)

var rootCmd = &cobra.Command{Use: "restrack"}

func main() {
	// Load .env if present; flags and env vars still take precedence.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().String("db", os.Getenv("DATABASE_URL"), "Database connection string")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
