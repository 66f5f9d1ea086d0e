package sync

import (
	"fmt"
	"strings"
	"time"

	"mattersync/internal/model"
)

// sourceName is the reference token the daily-note containers anchor on.
const sourceName = "Matter"

// renderTags renders tag references. Names containing spaces need the
// bracketed form to survive as a single reference.
func renderTags(tags []model.Tag) string {
	strs := make([]string, 0, len(tags))
	for _, tag := range tags {
		if strings.Contains(tag.Name, " ") {
			strs = append(strs, "#[["+tag.Name+"]]")
		} else {
			strs = append(strs, "#"+tag.Name)
		}
	}
	return strings.Join(strs, " ")
}

// displayName resolves who to credit for an entry, falling back through
// author, newsletter profile, publisher display name, publisher domain.
func displayName(entry model.FeedEntry) string {
	if entry.Author != nil && entry.Author.AnyName != "" {
		return entry.Author.AnyName
	}
	if entry.NewsletterProfile != nil && entry.NewsletterProfile.AnyName != "" {
		return entry.NewsletterProfile.AnyName
	}
	if entry.Publisher != nil {
		if entry.Publisher.AnyName != "" {
			return entry.Publisher.AnyName
		}
		return entry.Publisher.Domain
	}
	return ""
}

// metadataText renders the article page's metadata block.
func metadataText(entry model.FeedEntry) string {
	text := fmt.Sprintf("Author:: [[%s]]", displayName(entry))
	if tags := renderTags(entry.Tags); tags != "" {
		text += " " + tags
	}
	return text
}

func sourceText(entry model.FeedEntry) string {
	return fmt.Sprintf("Source:: [%s](%s)", entry.Title, entry.URL)
}

func publishedText(t time.Time) string {
	return "Published Date:: " + t.Format("2006-01-02")
}

func noteText(note string) string {
	return "Note:: " + note
}

func createdText(t time.Time) string {
	return "Created:: " + t.Format("3:04 PM on January 2, 2006")
}

// syncedContainerText titles the per-day highlights container on an
// article page. Reused when the same day syncs more than once.
func syncedContainerText(day time.Time) string {
	return fmt.Sprintf("Highlights synced on [[%s]]", datePageTitle(day))
}

// dailyContainerText titles the shared container on a journal page.
func dailyContainerText() string {
	return fmt.Sprintf("Highlights created on [[%s]]", sourceName)
}

// articleRefText titles the per-article sub-container on a journal page.
func articleRefText(title string) string {
	return "[[" + title + "]]"
}

// blockRef renders a reference to an existing block.
func blockRef(uid string) string {
	return "((" + uid + "))"
}

// datePageTitle renders the long-form daily page title, e.g.
// "August 28th, 2026". It is the only date form the tree links on.
func datePageTitle(t time.Time) string {
	return fmt.Sprintf("%s %d%s, %d", t.Month(), t.Day(), ordinalSuffix(t.Day()), t.Year())
}

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
