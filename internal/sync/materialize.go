package sync

import (
	"context"
	"time"

	"mattersync/internal/docstore"
	"mattersync/internal/model"
)

// Materializer idempotently writes new annotations into the document
// tree under one of the placement strategies. It only ever appends
// children or creates pages; it never reorders or deletes.
type Materializer struct {
	docs docstore.Store
	now  func() time.Time
}

// NewMaterializer creates a Materializer. now may be nil for time.Now.
func NewMaterializer(docs docstore.Store, now func() time.Time) *Materializer {
	if now == nil {
		now = time.Now
	}
	return &Materializer{docs: docs, now: now}
}

// MaterializeEntry writes the entry's new annotations under the chosen
// strategy and reports whether anything was written.
func (m *Materializer) MaterializeEntry(ctx context.Context, entry model.FeedEntry, annotations []model.Annotation, location model.SyncLocation) (bool, error) {
	switch location {
	case model.LocationDailyNote:
		return m.dailyNote(ctx, entry, annotations, nil)
	case model.LocationBoth:
		// The article page holds the highlight text (without inline
		// notes, to avoid duplicating them); the journal page gets a
		// back-reference per highlight.
		highlightUIDs, wrote, err := m.articlePage(ctx, entry, annotations, false)
		if err != nil {
			return wrote, err
		}
		if len(annotations) > 0 {
			dailyWrote, err := m.dailyNote(ctx, entry, annotations, highlightUIDs)
			wrote = wrote || dailyWrote
			if err != nil {
				return wrote, err
			}
		}
		return wrote, nil
	default:
		_, wrote, err := m.articlePage(ctx, entry, annotations, true)
		return wrote, err
	}
}

// articlePage materializes under one page per article: metadata and a
// source link on first sight, then today's "highlights synced on"
// container with one child per annotation. Returns the uid of each
// created highlight block in annotation order.
func (m *Materializer) articlePage(ctx context.Context, entry model.FeedEntry, annotations []model.Annotation, inlineNotes bool) ([]string, bool, error) {
	wrote := false

	pageUID, err := m.docs.PageUID(ctx, entry.Title)
	if err != nil {
		return nil, false, err
	}
	if pageUID == "" {
		pageUID, err = m.docs.CreatePage(ctx, entry.Title)
		if err != nil {
			return nil, false, err
		}
		if _, err := m.docs.CreateBlock(ctx, pageUID, 0, metadataText(entry), 3); err != nil {
			return nil, true, err
		}
		if _, err := m.docs.CreateBlock(ctx, pageUID, 1, sourceText(entry), 0); err != nil {
			return nil, true, err
		}
		if entry.PublicationDate != nil {
			if _, err := m.docs.CreateBlock(ctx, pageUID, 2, publishedText(*entry.PublicationDate), 0); err != nil {
				return nil, true, err
			}
		}
		wrote = true
	}

	if len(annotations) == 0 {
		return nil, wrote, nil
	}

	containerUID, err := m.locateOrCreateChild(ctx, pageUID, syncedContainerText(m.now()), 2)
	if err != nil {
		return nil, wrote, err
	}

	uids := make([]string, 0, len(annotations))
	for _, a := range annotations {
		// Re-read after every mutation; earlier appends in this cycle
		// change sibling count.
		siblings, err := m.docs.Children(ctx, containerUID)
		if err != nil {
			return uids, wrote, err
		}
		uid, err := m.docs.CreateBlock(ctx, containerUID, len(siblings), a.Text, 0)
		if err != nil {
			return uids, wrote, err
		}
		wrote = true
		uids = append(uids, uid)

		if inlineNotes && a.Note != "" {
			if _, err := m.docs.CreateBlock(ctx, uid, 0, noteText(a.Note), 0); err != nil {
				return uids, wrote, err
			}
		}
	}
	return uids, wrote, nil
}

// dailyNote materializes under today's journal page: a shared container,
// a per-article sub-container, and one child per annotation. When
// highlightUIDs is non-nil (the combined strategy) each child is a
// back-reference to the already-created article-page highlight instead
// of the raw text.
func (m *Materializer) dailyNote(ctx context.Context, entry model.FeedEntry, annotations []model.Annotation, highlightUIDs []string) (bool, error) {
	if len(annotations) == 0 {
		return false, nil
	}

	journalUID, err := m.docs.CreatePage(ctx, datePageTitle(m.now()))
	if err != nil {
		return false, err
	}
	sharedUID, err := m.locateOrCreateChild(ctx, journalUID, dailyContainerText(), 2)
	if err != nil {
		return false, err
	}
	articleUID, err := m.locateOrCreateChild(ctx, sharedUID, articleRefText(entry.Title), 0)
	if err != nil {
		return false, err
	}

	wrote := false
	for i, a := range annotations {
		siblings, err := m.docs.Children(ctx, articleUID)
		if err != nil {
			return wrote, err
		}

		text := a.Text
		if highlightUIDs != nil {
			text = blockRef(highlightUIDs[i])
		}
		uid, err := m.docs.CreateBlock(ctx, articleUID, len(siblings), text, 0)
		if err != nil {
			return wrote, err
		}
		wrote = true

		childOrder := 0
		if a.Note != "" {
			if _, err := m.docs.CreateBlock(ctx, uid, childOrder, noteText(a.Note), 0); err != nil {
				return wrote, err
			}
			childOrder++
		}
		if _, err := m.docs.CreateBlock(ctx, uid, childOrder, createdText(a.CreatedDate), 0); err != nil {
			return wrote, err
		}
	}
	return wrote, nil
}

// locateOrCreateChild returns the uid of the immediate child of
// parentUID with exactly this text, creating it at the end when absent.
// Lookup is by exact text equality against the children as they are now.
func (m *Materializer) locateOrCreateChild(ctx context.Context, parentUID, text string, heading int) (string, error) {
	children, err := m.docs.Children(ctx, parentUID)
	if err != nil {
		return "", err
	}
	for _, c := range children {
		if c.Text == text {
			return c.UID, nil
		}
	}
	return m.docs.CreateBlock(ctx, parentUID, len(children), text, heading)
}
