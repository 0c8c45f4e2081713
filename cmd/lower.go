// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	peparser "github.com/saferwall/nanometa"
	"github.com/saferwall/nanometa/nano"
)

type lowerOptions struct {
	output             string
	dump               string
	excludedTypes      string
	typeOrder          string
	compressAttributes bool
	nativeStubs        string
	quiet              bool
}

func newLowerCmd() *cobra.Command {
	opts := &lowerOptions{}

	cmd := &cobra.Command{
		Use:   "lower <input.dll>",
		Short: "Lower a managed assembly into a compact nano metadata image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLower(args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output nano image path (required)")
	cmd.Flags().StringVar(&opts.dump, "dump", "", "optional textual dump output path")
	cmd.Flags().StringVar(&opts.excludedTypes, "excluded-types", "", "optional YAML file listing fully-qualified type names to exclude")
	cmd.Flags().StringVar(&opts.typeOrder, "type-order", "", "optional YAML file giving an explicit type emission order")
	cmd.Flags().BoolVar(&opts.compressAttributes, "compress-attributes", false, "sort each owner's custom attributes descending by name before emission")
	cmd.Flags().StringVar(&opts.nativeStubs, "native-stubs", "", "optional directory to emit per-type native stub headers into")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress the progress bar")
	cmd.MarkFlagRequired("output")

	return cmd
}

// runLower drives the full pipeline described by spec.md §2: load,
// filter/order/build (the tables context owns those three phases
// internally), emit, and the two optional external-collaborator steps
// (textual dump, native stub headers). On any failure the partially
// written output file is removed, per §7's "partial output must not be
// left behind".
func runLower(input string, opts *lowerOptions) error {
	logger := log.NewStdLogger(os.Stderr)
	logger = log.NewFilter(logger, log.FilterLevel(log.LevelError))
	helper := log.NewHelper(logger)

	bar := progressbar.NewOptions(4,
		progressbar.OptionSetDescription("lowering "+input),
		progressbar.OptionSetVisibility(!opts.quiet),
		progressbar.OptionClearOnFinish(),
	)
	step := func(label string) {
		bar.Describe(label)
		_ = bar.Add(1)
	}

	file, err := peparser.New(input, &peparser.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("opening %s: %w", input, err)
	}
	defer file.Close()

	step("parsing PE/CLI headers")
	if err := file.Parse(); err != nil {
		return fmt.Errorf("parsing %s: %w", input, err)
	}

	asm, err := peparser.Load(file)
	if err != nil {
		return fmt.Errorf("loading metadata: %w", err)
	}

	excluded, err := loadExcludeList(opts.excludedTypes)
	if err != nil {
		return fmt.Errorf("reading excluded-types list: %w", err)
	}
	order, err := loadTypeOrder(opts.typeOrder)
	if err != nil {
		return fmt.Errorf("reading type-order list: %w", err)
	}

	step("building tables context")
	ctx := nano.NewContext(asm, excluded)
	if err := ctx.Build(order); err != nil {
		helper.Errorf("lowering failed: %v", err)
		return err
	}

	step("emitting nano image")
	image, err := nano.Emit(ctx, opts.compressAttributes)
	if err != nil {
		return err
	}

	if err := writeFileAtomically(opts.output, image); err != nil {
		return err
	}

	step("writing optional outputs")
	if opts.dump != "" {
		if err := writeDump(ctx, opts.dump); err != nil {
			os.Remove(opts.output)
			return err
		}
	}
	if opts.nativeStubs != "" {
		if err := writeNativeStubs(ctx, opts.nativeStubs); err != nil {
			os.Remove(opts.output)
			return err
		}
	}

	_ = bar.Finish()
	helper.Infof("wrote %s (%d bytes)", opts.output, len(image))
	return nil
}

// writeFileAtomically writes data to path, deleting any partial file
// left behind by a failed write, per §7's no-partial-output policy.
func writeFileAtomically(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func writeDump(ctx *nano.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	d := nano.NewDumper(ctx, f, false)
	return d.Dump()
}
