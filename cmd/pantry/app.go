package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/DaDevFox/task-systems/pantry-core/internal/config"
	"github.com/DaDevFox/task-systems/pantry-core/internal/docstore"
	"github.com/DaDevFox/task-systems/pantry-core/internal/domain"
	"github.com/DaDevFox/task-systems/pantry-core/internal/inventory"
	"github.com/DaDevFox/task-systems/pantry-core/internal/view"
)

// app carries what every command needs once the store is open.
type app struct {
	in  *bufio.Reader
	out io.Writer

	storeFlag string
	pathFlag  string

	cfg        *config.Config
	logger     *logrus.Logger
	store      docstore.Store
	client     *inventory.Client
	controller *view.Controller

	openStore func(ctx context.Context, opts docstore.Options) (docstore.Store, error)
	loadCfg   func() (*config.Config, error)
	pick      func(items domain.Inventory) (domain.Item, error)
}

func newApp(in io.Reader, out io.Writer) *app {
	return &app{
		in:        bufio.NewReader(in),
		out:       out,
		openStore: docstore.Open,
		loadCfg:   config.LoadConfig,
		pick:      fuzzyPick,
	}
}

func (a *app) loadConfig() {
	cfg, err := a.loadCfg()
	if err != nil {
		fmt.Fprintf(a.out, "Warning: Failed to load config: %v\n", err)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	a.cfg = cfg

	a.logger = logrus.New()
	a.logger.SetOutput(io.Discard)
	if cfg.Debug {
		a.logger.SetOutput(a.out)
		a.logger.SetLevel(logrus.DebugLevel)
	}
}

// connect opens the configured store and loads the inventory.
func (a *app) connect(ctx context.Context) error {
	a.loadConfig()
	if a.storeFlag != "" {
		a.cfg.Store = a.storeFlag
	}
	if a.pathFlag != "" {
		a.cfg.DBPath = a.pathFlag
	}

	opts, err := a.cfg.StoreOptions(a.logger)
	if err != nil {
		return err
	}
	store, err := a.openStore(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", opts.Type, err)
	}
	a.store = store

	clientOpts := []inventory.Option{inventory.WithLogger(a.logger)}
	if a.cfg.AtomicAdjust {
		clientOpts = append(clientOpts, inventory.WithAtomicAdjust())
	}
	a.client = inventory.NewClient(store, clientOpts...)
	a.controller = view.NewController(a.client, nil, a.logger)

	if err := a.controller.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load pantry: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.controller != nil {
		a.controller.Wait()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *app) printItems(items domain.Inventory) {
	if len(items) == 0 {
		fmt.Fprintln(a.out, "No items")
		return
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tQUANTITY")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%d\n", item.Name, item.Quantity)
	}
	w.Flush()
	fmt.Fprintf(a.out, "%d items, %d total\n", len(items), items.TotalQuantity())
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
