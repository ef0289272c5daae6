package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wellonapharm/smart/internal/invoice"
	"github.com/wellonapharm/smart/internal/reconcile"
)

var importCmd = &cobra.Command{
	Use:   "import <file.xml>",
	Short: "Reconcile one supplier invoice into the ERP",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var batchImportCmd = &cobra.Command{
	Use:   "batch-import <dir>",
	Short: "Reconcile every XML invoice in a directory",
	Long: `Parses all *.xml files in the directory concurrently, then
reconciles them one at a time: document numbering is sequential per
year and parallel writers would race for the same number.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchImport,
}

func init() {
	rootCmd.AddCommand(importCmd, batchImportCmd)
	for _, c := range []*cobra.Command{importCmd, batchImportCmd} {
		c.Flags().Bool("dry-run", false, "full pipeline inside a rolled-back transaction, nothing persists")
		c.Flags().Bool("nivelizacija", false, "emit a price-adjustment document for changed prices")
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	nivelizacija, _ := cmd.Flags().GetBool("nivelizacija")

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	header, lines, err := rt.parser.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	result, err := rt.reconciler.Reconcile(ctx, header, lines, reconcile.Options{
		DryRun:           dryRun,
		AllowAutoCreate:  rt.cfg.AllowAutoCreate,
		AutoNivelizacija: nivelizacija || rt.cfg.AutoNivelizacija,
		SourceFile:       filepath.Base(args[0]),
	})
	if err != nil {
		return err
	}
	printResult(cmd, args[0], result)
	return nil
}

type parsedInvoice struct {
	path   string
	header invoice.Header
	lines  []invoice.Line
}

func runBatchImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	nivelizacija, _ := cmd.Flags().GetBool("nivelizacija")

	entries, err := os.ReadDir(args[0])
	if err != nil {
		return err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			paths = append(paths, filepath.Join(args[0], e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return fmt.Errorf("no xml files in %s", args[0])
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	parsed := make([]*parsedInvoice, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			header, lines, err := rt.parser.Parse(path)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			parsed[i] = &parsedInvoice{path: path, header: header, lines: lines}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, p := range parsed {
		result, err := rt.reconciler.Reconcile(ctx, p.header, p.lines, reconcile.Options{
			DryRun:           dryRun,
			AllowAutoCreate:  rt.cfg.AllowAutoCreate,
			AutoNivelizacija: nivelizacija || rt.cfg.AutoNivelizacija,
			SourceFile:       filepath.Base(p.path),
		})
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", p.path, err)
			continue
		}
		printResult(cmd, p.path, result)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d invoices failed", failed, len(parsed))
	}
	return nil
}

func printResult(cmd *cobra.Command, path string, result reconcile.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s document %s, %d lines", filepath.Base(path),
		result.Status, result.DocumentNumber, result.LinesInserted)
	if result.Stats["CREATED"] > 0 {
		fmt.Fprintf(out, ", %d articles auto-created", result.Stats["CREATED"])
	}
	if len(result.PriceChanges) > 0 {
		fmt.Fprintf(out, ", %d price changes", len(result.PriceChanges))
	}
	fmt.Fprintln(out)
	for _, pc := range result.PriceChanges {
		fmt.Fprintf(out, "  price change %s: %s -> %s\n", pc.ArticleCode, pc.OldPrice, pc.NewPrice)
	}
}
