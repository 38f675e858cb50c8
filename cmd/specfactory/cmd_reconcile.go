package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	reconcileCategory string
	reconcileDryRun   bool
)

// productReconcileCmd folds fabricated-variant orphans into their canonical
// siblings.
var productReconcileCmd = &cobra.Command{
	Use:   "product-reconcile",
	Short: "Scan for fabricated-variant orphans and fold them into canonical entries",
	Long: `Scans the input files of a category for product ids carrying a
fabricated variant suffix. Orphans whose canonical sibling exists are removed
(artifacts merged); fabricated ids without a sibling are reported as warnings
and left untouched. With --dry-run nothing is modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildCatalogOnly(cmd)
		if err != nil {
			return err
		}
		report, err := s.Scan(cmd.Context(), reconcileCategory)
		if err != nil {
			return err
		}
		for _, item := range report.Items {
			switch item.Class {
			case "orphan":
				fmt.Printf("orphan   %-50s -> %s\n", item.ProductID, item.Canonical)
			case "warning":
				fmt.Printf("warning  %-50s fabricated variant, no canonical sibling\n", item.ProductID)
			}
		}
		fmt.Printf("%d orphans, %d warnings\n", report.Orphans, report.Warnings)
		if report.Orphans == 0 {
			return nil
		}

		resolved, err := s.ReconcileOrphans(cmd.Context(), reconcileCategory, reconcileDryRun)
		if err != nil {
			return err
		}
		verb := "removed"
		if reconcileDryRun {
			verb = "would remove"
		}
		for _, item := range resolved {
			fmt.Printf("%s %s\n", verb, item.ProductID)
		}
		return nil
	},
}

func init() {
	productReconcileCmd.Flags().StringVar(&reconcileCategory, "category", "mouse", "product category")
	productReconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report without modifying anything")
}
