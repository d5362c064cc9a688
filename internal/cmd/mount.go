package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ticketfs/ticketfs/internal/config"
	"github.com/ticketfs/ticketfs/internal/fsview"
	"github.com/ticketfs/ticketfs/internal/memcache"
	"github.com/ticketfs/ticketfs/internal/store"
	"github.com/ticketfs/ticketfs/internal/syncengine"
	"github.com/ticketfs/ticketfs/internal/syncstate"
	"github.com/ticketfs/ticketfs/internal/upstream"
)

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Mount the cached issue-tracker filesystem",
	Long:  `Mount the synced, cached issue-tracker view at the specified mountpoint.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().BoolP("foreground", "f", false, "run in foreground (don't daemonize)")
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	mountpoint := cfg.Mount.DefaultPath
	if len(args) > 0 {
		mountpoint = args[0]
	}
	if mountpoint == "" {
		return fmt.Errorf("mountpoint required: ticketfs mount /path/to/mount")
	}

	// Ensure mountpoint exists
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return fmt.Errorf("failed to create mountpoint: %w", err)
	}

	debug, _ := cmd.Flags().GetBool("debug")
	if d, _ := cmd.Root().PersistentFlags().GetBool("debug"); d {
		debug = true
	}

	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = store.DefaultDBPath()
	}
	durable, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("failed to open durable store: %w", err)
	}

	cache := memcache.New(cfg.Cache.ProjectTTL, cfg.Cache.IssueTTL, durable)
	state := syncstate.New(cfg.Sync.Interval)

	workspaces := make([]syncengine.Workspace, len(cfg.Workspaces))
	workspaceNames := make([]string, len(cfg.Workspaces))
	for i, ws := range cfg.Workspaces {
		workspaces[i] = syncengine.Workspace{Name: ws.Name, Query: ws.Query}
		workspaceNames[i] = ws.Name
	}

	// No production upstream client ships with this module (it is an
	// out-of-scope external collaborator); the fake client stands in so
	// the sync engine and filesystem view have a concrete collaborator
	// to drive against until a real one is wired in by an integrator.
	client := upstream.NewFakeClient()
	engine := syncengine.New(client, durable, cache, state, workspaces, cfg.Sync.Budget, cfg.Sync.RequestsPerSecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run one full sync pass in the background before mounting; the
	// background worker claims the single-writer slot itself, so this
	// never blocks the mount.
	fsview.RunInitialSync(ctx, engine)
	go engine.Run(ctx)

	fmt.Printf("Mounting ticketfs at %s\n", mountpoint)

	view := fsview.NewView(cache, durable, state, workspaceNames)
	server, err := fsview.Mount(mountpoint, view, debug)
	if err != nil {
		durable.Close()
		return fmt.Errorf("failed to mount: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nUnmounting...")
		server.Unmount()
	}()

	fmt.Println("Filesystem mounted. Press Ctrl+C to unmount.")
	server.Wait()

	durable.Close()
	return nil
}
