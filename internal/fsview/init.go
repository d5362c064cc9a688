package fsview

import (
	"context"
	"log"

	"github.com/ticketfs/ticketfs/internal/syncengine"
)

// RunInitialSync spawns the filesystem's mount-time initial-sync hook: a
// background pass that first seeds each workspace's directory listing
// from a fast ref-only query (so projects/ isn't empty while the full
// pass is still running), then claims the sync-state single-writer slot
// and runs one full sync, logging summary counts. This runs as a
// goroutine started by the CLI around the mount call rather than a
// go-fuse node lifecycle hook, so it never blocks the mount itself.
func RunInitialSync(ctx context.Context, engine *syncengine.Engine) {
	go func() {
		seeded := engine.SeedWorkspaceListings(ctx)
		log.Printf("[fsview] seeded %d workspace listing(s)", seeded)

		result := engine.TriggerInitialSync(ctx)
		if len(result.Errors) > 0 {
			log.Printf("[fsview] initial sync done: %s issues cached, %d errors (first: %v)",
				logSyncSummary(result.IssuesCached), len(result.Errors), result.Errors[0])
			return
		}
		log.Printf("[fsview] initial sync done: %s issues cached", logSyncSummary(result.IssuesCached))
	}()
}
