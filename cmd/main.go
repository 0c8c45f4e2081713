// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "nanometa",
		Short: "Lowers a managed assembly into a compact nano-runtime metadata image",
		Long: "nanometa trims a PE/CLI assembly down to the flat tables, string\n" +
			"heap, signature blob and byte-code a constrained-runtime flavor of\n" +
			"the managed-object execution environment loads.",
	}

	root.AddCommand(newLowerCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nanometa version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("nanometa 0.1.0")
		},
	}
}
