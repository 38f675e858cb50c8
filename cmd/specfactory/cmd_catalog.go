package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"specfactory/internal/catalog"
	"specfactory/internal/queue"
	"specfactory/internal/storage"
)

var (
	addCategory string
	addBrand    string
	addModel    string
	addVariant  string
	addSeeds    []string

	listCategory string

	removeCategory string
	removeProduct  string

	updateCategory string
	updateProduct  string
	updateBrand    string
	updateModel    string
	updateVariant  string
	updateStatus   string

	brandAliases    []string
	brandCategories []string
)

// productAddCmd registers a product and writes its job input file.
var productAddCmd = &cobra.Command{
	Use:   "product-add",
	Short: "Add a product to the catalog and queue it",
	Long: `Normalizes the identity (fabricated variants are stripped), allocates
the numeric id and the immutable identifier, writes the job input file and the
queue entry. Adding the same identity twice is idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildCatalogOnly(cmd)
		if err != nil {
			return err
		}
		job, result, err := s.AddProduct(cmd.Context(), addCategory, addBrand, addModel, addVariant, addSeeds)
		if err != nil {
			return err
		}
		if result.WasCleaned {
			fmt.Printf("identity cleaned (%s)\n", result.Reason)
		}
		fmt.Printf("added %s (id=%d identifier=%s)\n",
			job.ProductID, job.IdentityLock.ID, job.IdentityLock.Identifier)
		fmt.Printf("input: %s\n", catalog.InputKey(addCategory, job.ProductID))
		return nil
	},
}

// productListCmd lists the catalog of a category.
var productListCmd = &cobra.Command{
	Use:   "product-list",
	Short: "List catalog entries for a category",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildCatalogOnly(cmd)
		if err != nil {
			return err
		}
		ids, err := s.List(cmd.Context(), listCategory)
		if err != nil {
			return err
		}
		for _, id := range ids {
			entry, err := s.Get(cmd.Context(), listCategory, id)
			if err != nil {
				return err
			}
			fmt.Printf("%-50s id=%-4d %s %s\n", id, entry.ID, entry.Identifier, entry.Status)
		}
		fmt.Printf("%d products\n", len(ids))
		return nil
	},
}

// productRemoveCmd drops a product; published artifacts stay on disk.
var productRemoveCmd = &cobra.Command{
	Use:   "product-remove",
	Short: "Remove a product from the catalog and queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildCatalogOnly(cmd)
		if err != nil {
			return err
		}
		if err := s.RemoveProduct(cmd.Context(), removeCategory, removeProduct); err != nil {
			return err
		}
		fmt.Printf("removed %s (run artifacts kept)\n", removeProduct)
		return nil
	},
}

// productUpdateCmd edits identity or status; slug changes run the artifact
// migration protocol.
var productUpdateCmd = &cobra.Command{
	Use:   "product-update",
	Short: "Edit a product's identity or status (renames migrate artifacts)",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildCatalogOnly(cmd)
		if err != nil {
			return err
		}
		patch := catalog.UpdatePatch{}
		if cmd.Flags().Changed("brand") {
			patch.Brand = &updateBrand
		}
		if cmd.Flags().Changed("model") {
			patch.Model = &updateModel
		}
		if cmd.Flags().Changed("variant") {
			patch.Variant = &updateVariant
		}
		if cmd.Flags().Changed("status") {
			patch.Status = &updateStatus
		}
		result, err := s.UpdateProduct(cmd.Context(), updateCategory, updateProduct, patch)
		if err != nil {
			return err
		}
		if result.Renamed {
			m := result.Migration
			fmt.Printf("renamed %s -> %s (migrated %d, failed %d)\n",
				updateProduct, result.ProductID, m.MigratedCount, m.FailedCount)
			if !m.OK {
				return fmt.Errorf("migration incomplete, run product-reconcile")
			}
			return nil
		}
		fmt.Printf("updated %s\n", result.ProductID)
		return nil
	},
}

// brandCmd manages the brand registry.
var brandCmd = &cobra.Command{
	Use:   "brand [add|rename] [name...]",
	Short: "Manage the brand registry",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildCatalogOnly(cmd)
		if err != nil {
			return err
		}
		switch args[0] {
		case "add":
			entry, err := s.RegisterBrand(cmd.Context(), args[1], brandAliases)
			if err != nil {
				return err
			}
			fmt.Printf("brand %s (slug %s)\n", entry.Name, entry.Slug)
			return nil
		case "rename":
			if len(args) != 3 {
				return fmt.Errorf("usage: brand rename <old> <new>")
			}
			moved, err := s.RenameBrand(cmd.Context(), args[1], args[2], brandCategories)
			if err != nil {
				return err
			}
			fmt.Printf("brand renamed, %d products migrated\n", moved)
			return nil
		default:
			return fmt.Errorf("unknown brand action %q (add, rename)", args[0])
		}
	},
}

func init() {
	productAddCmd.Flags().StringVar(&addCategory, "category", "mouse", "product category")
	productAddCmd.Flags().StringVar(&addBrand, "brand", "", "brand name")
	productAddCmd.Flags().StringVar(&addModel, "model", "", "model name")
	productAddCmd.Flags().StringVar(&addVariant, "variant", "", "variant (optional)")
	productAddCmd.Flags().StringSliceVar(&addSeeds, "seed", nil, "seed URL (repeatable)")
	_ = productAddCmd.MarkFlagRequired("brand")
	_ = productAddCmd.MarkFlagRequired("model")

	productListCmd.Flags().StringVar(&listCategory, "category", "mouse", "product category")

	productRemoveCmd.Flags().StringVar(&removeCategory, "category", "mouse", "product category")
	productRemoveCmd.Flags().StringVar(&removeProduct, "product", "", "product id")
	_ = productRemoveCmd.MarkFlagRequired("product")

	productUpdateCmd.Flags().StringVar(&updateCategory, "category", "mouse", "product category")
	productUpdateCmd.Flags().StringVar(&updateProduct, "product", "", "product id")
	productUpdateCmd.Flags().StringVar(&updateBrand, "brand", "", "new brand")
	productUpdateCmd.Flags().StringVar(&updateModel, "model", "", "new model")
	productUpdateCmd.Flags().StringVar(&updateVariant, "variant", "", "new variant")
	productUpdateCmd.Flags().StringVar(&updateStatus, "status", "", "new status")
	_ = productUpdateCmd.MarkFlagRequired("product")

	brandCmd.Flags().StringSliceVar(&brandAliases, "alias", nil, "brand alias (repeatable)")
	brandCmd.Flags().StringSliceVar(&brandCategories, "category", nil, "categories to migrate on rename")
}

// buildCatalogOnly wires just storage and the catalog, without the fetch and
// LLM stack.
func buildCatalogOnly(cmd *cobra.Command) (*catalog.Catalog, error) {
	store, err := storage.FromConfig(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return catalog.New(store, queue.NewStateStore(store), cfg.OutputPrefix), nil
}
