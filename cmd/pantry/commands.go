package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ktr0731/go-fuzzyfinder"
	"github.com/spf13/cobra"

	"github.com/DaDevFox/task-systems/pantry-core/internal/docstore"
	"github.com/DaDevFox/task-systems/pantry-core/internal/domain"
)

const commandTimeout = 10 * time.Second

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pantry",
		Short:         "Pantry inventory CLI",
		Long:          "Keep track of pantry items and their quantities in a document store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.storeFlag, "store", "", "Store backend (overrides config)")
	rootCmd.PersistentFlags().StringVar(&a.pathFlag, "path", "", "Database path for embedded stores (overrides config)")

	rootCmd.AddCommand(newListCommand(a))
	rootCmd.AddCommand(newAddCommand(a))
	rootCmd.AddCommand(newRemoveCommand(a))
	rootCmd.AddCommand(newSetCommand(a))
	rootCmd.AddCommand(newFindCommand(a))
	rootCmd.AddCommand(newConfigCommand(a))

	return rootCmd
}

// withStore wraps a command body with store setup and a timeout.
func withStore(a *app, run func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		if err := a.connect(ctx); err != nil {
			return err
		}
		return run(ctx, args)
	}
}

func newListCommand(a *app) *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pantry items",
		Args:  cobra.NoArgs,
		RunE: withStore(a, func(ctx context.Context, args []string) error {
			a.controller.SetSearch(search)
			a.printItems(a.controller.Filtered())
			return nil
		}),
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "Only show items whose name contains this text")
	return cmd
}

func newAddCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add one of an item, creating it when absent",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(a, func(ctx context.Context, args []string) error {
			if err := a.client.Increment(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to add '%s': %w", args[0], err)
			}
			item, _ := a.client.Snapshot().Find(args[0])
			fmt.Fprintf(a.out, "%s: %d\n", item.Name, item.Quantity)
			return nil
		}),
	}
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove one of an item, deleting it at zero",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(a, func(ctx context.Context, args []string) error {
			if err := a.client.Decrement(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to remove '%s': %w", args[0], err)
			}
			printQuantity(a, args[0])
			return nil
		}),
	}
}

func newSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <quantity>",
		Short: "Set an item's quantity; zero or less deletes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := domain.ParseQuantity(args[1])
			if err != nil {
				return err
			}
			return withStore(a, func(ctx context.Context, args []string) error {
				if err := a.client.SetQuantity(ctx, args[0], quantity); err != nil {
					return fmt.Errorf("failed to set '%s': %w", args[0], err)
				}
				printQuantity(a, args[0])
				return nil
			})(cmd, args)
		},
	}
}

func printQuantity(a *app, name string) {
	if item, ok := a.client.Snapshot().Find(name); ok {
		fmt.Fprintf(a.out, "%s: %d\n", item.Name, item.Quantity)
		return
	}
	fmt.Fprintf(a.out, "%s: removed\n", name)
}

// newFindCommand picks an item with a fuzzy finder and edits its quantity through an edit session.
func newFindCommand(a *app) *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Interactively pick an item and update its quantity",
		Args:  cobra.NoArgs,
		RunE: withStore(a, func(ctx context.Context, args []string) error {
			a.controller.SetSearch(search)
			items := a.controller.Filtered()
			if len(items) == 0 {
				return errors.New("no items found for selection")
			}

			item, err := a.pick(items)
			if errors.Is(err, fuzzyfinder.ErrAbort) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("item selection failed: %w", err)
			}

			return editItem(ctx, a, item)
		}),
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "Narrow the candidates before picking")
	return cmd
}

func editItem(ctx context.Context, a *app, item domain.Item) error {
	a.controller.BeginEdit(item)

	answer, err := a.prompt(fmt.Sprintf("New quantity for %s [%d]: ", item.Name, item.Quantity))
	if err != nil {
		a.controller.CancelEdit()
		return err
	}
	if answer == "" {
		a.controller.CancelEdit()
		fmt.Fprintln(a.out, "Unchanged")
		return nil
	}

	quantity, err := domain.ParseQuantity(answer)
	if err != nil {
		a.controller.CancelEdit()
		return err
	}
	a.controller.SetPendingQuantity(quantity)
	a.controller.CommitEdit(ctx)
	a.controller.Wait()

	printQuantity(a, item.Name)
	return nil
}

func fuzzyPick(items domain.Inventory) (domain.Item, error) {
	idx, err := fuzzyfinder.Find(
		items,
		func(i int) string { return items[i].Name },
		fuzzyfinder.WithPromptString("item> "),
		fuzzyfinder.WithPreviewWindow(func(i, w, h int) string {
			if i == -1 {
				return ""
			}
			return fmt.Sprintf("%s\nquantity: %d", items[i].Name, items[i].Quantity)
		}),
	)
	if err != nil {
		return domain.Item{}, err
	}
	return items[idx], nil
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.loadConfig()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "Current Configuration:\n")
			fmt.Fprintf(a.out, "  Store: %s\n", a.cfg.Store)
			fmt.Fprintf(a.out, "  Database Path: %s\n", a.cfg.DBPath)
			fmt.Fprintf(a.out, "  Collection: %s\n", a.cfg.Collection)
			fmt.Fprintf(a.out, "  Atomic Adjust: %t\n", a.cfg.AtomicAdjust)
			fmt.Fprintf(a.out, "Available Stores:\n")
			for _, t := range []docstore.Type{docstore.TypeBolt, docstore.TypeBadger, docstore.TypeSQLite, docstore.TypeRedis, docstore.TypePostgres, docstore.TypeMemory} {
				fmt.Fprintf(a.out, "  %s: %s\n", t, docstore.Describe()[t])
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-store <type>",
		Short: "Set the store backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeType, err := docstore.ParseType(args[0])
			if err != nil {
				return err
			}
			a.cfg.Store = string(storeType)
			if err := a.cfg.SaveConfig(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(a.out, "Store set to: %s\n", storeType)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-path <path>",
		Short: "Set the database path for embedded stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.DBPath = args[0]
			if err := a.cfg.SaveConfig(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(a.out, "Database path set to: %s\n", args[0])
			return nil
		},
	})

	return cmd
}
