package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/feedkeeper/internal/feedctl"
)

func main() {
	rootCmd := feedctl.NewRootCmd(os.Stdout)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "feedctl:", err)
		os.Exit(1)
	}
}
