package sync

import (
	"context"
)

// The sync-status indicator: a visible block on the config page while a
// cycle is in flight. Deleting it is the only deletion the engine performs.
const (
	configPageTitle   = "Matter Sync"
	syncStatusMessage = "Syncing with Matter..."
)

// SetStatusIndicator shows or hides the in-progress indicator block at
// the top of the config page.
func (e *Engine) SetStatusIndicator(ctx context.Context, syncing bool) error {
	pageUID, err := e.docs.CreatePage(ctx, configPageTitle)
	if err != nil {
		return err
	}

	existing, err := e.docs.FindBlockOnPage(ctx, pageUID, syncStatusMessage)
	if err != nil {
		return err
	}
	if existing != "" {
		if err := e.docs.DeleteBlock(ctx, existing); err != nil {
			return err
		}
	}

	if syncing {
		if _, err := e.docs.CreateBlock(ctx, pageUID, 0, syncStatusMessage, 0); err != nil {
			return err
		}
	}
	return nil
}
