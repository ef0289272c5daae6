package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wellonapharm/smart/internal/app"
	"github.com/wellonapharm/smart/internal/ordering"
	"github.com/wellonapharm/smart/internal/platform/db"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Print order proposals for one supplier",
	RunE:  runOrder,
}

func init() {
	rootCmd.AddCommand(orderCmd)
	orderCmd.Flags().String("supplier", "", "supplier code (required)")
	orderCmd.Flags().String("mode", string(ordering.ModeIzlaz), "target mode: izlaz, mes_muj or max")
	orderCmd.Flags().Bool("csv", false, "emit Sifra;Kolicina lines for the wholesale portal")
	_ = orderCmd.MarkFlagRequired("supplier")
}

func runOrder(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	supplier, _ := cmd.Flags().GetString("supplier")
	mode, _ := cmd.Flags().GetString("mode")
	asCSV, _ := cmd.Flags().GetBool("csv")

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.AuditPGDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	svc := ordering.NewService(ordering.NewRepository(pool), logger)
	proposals, err := svc.Proposals(ctx, supplier, ordering.TargetMode(mode))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asCSV {
		fmt.Fprintln(out, "Sifra;Kolicina")
		for _, p := range proposals {
			fmt.Fprintf(out, "%s;%d\n", p.ArticleCode, p.Quantity)
		}
		return nil
	}

	fmt.Fprintf(out, "%-12s %-40s %8s %8s %8s %6s\n", "SIFRA", "NAZIV", "STANJE", "CILJ", "POROSI", "HITNO")
	for _, p := range proposals {
		urgent := ""
		if p.Urgent {
			urgent = "!"
		}
		fmt.Fprintf(out, "%-12s %-40.40s %8.1f %8.1f %8d %6s\n",
			p.ArticleCode, p.Name, p.Stock, p.TargetStock, p.Quantity, urgent)
	}
	fmt.Fprintf(out, "%d proposals\n", len(proposals))
	return nil
}
