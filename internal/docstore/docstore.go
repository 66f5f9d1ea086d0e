// Package docstore implements the hierarchical document tree that
// highlights are materialized into: pages of ordered, nestable blocks.
package docstore

import "context"

// Block is one node in the document tree.
type Block struct {
	UID     string
	Text    string
	Heading int
	Order   int
}

// Store is the interface to the document tree. The sync engine only ever
// appends blocks or creates pages; DeleteBlock exists solely for the
// sync-status indicator.
type Store interface {
	// CreatePage returns the uid of the page with the given title,
	// creating it if absent.
	CreatePage(ctx context.Context, title string) (string, error)

	// PageUID returns the uid of the page with the given title, or ""
	// when no such page exists.
	PageUID(ctx context.Context, title string) (string, error)

	// CreateBlock inserts a block under parentUID (a page or block uid)
	// at the given order index, shifting later siblings. heading of 0
	// means plain text.
	CreateBlock(ctx context.Context, parentUID string, order int, text string, heading int) (string, error)

	// Children returns the immediate children of parentUID in order.
	Children(ctx context.Context, parentUID string) ([]Block, error)

	// FindBlockOnPage returns the uid of any block on the page whose
	// text equals exactText, searching the whole subtree, or "" when
	// none exists.
	FindBlockOnPage(ctx context.Context, pageUID, exactText string) (string, error)

	// DeleteBlock removes a block and its descendants.
	DeleteBlock(ctx context.Context, uid string) error
}
