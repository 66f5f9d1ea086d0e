package sync

import (
	"context"
	"sort"
	"time"

	"mattersync/internal/model"
)

// existsFunc reports whether content with exactly this text is already
// present on the strategy's target page.
type existsFunc func(ctx context.Context, text string) (bool, error)

// newAnnotations filters annotations down to genuinely new ones and
// sorts them into source-document order.
//
// Two independent layers, both required: the timestamp cutoff is cheap
// but defeated by clock skew and partial cycles; the existence check
// catches everything already written, whichever placement path wrote it.
func newAnnotations(ctx context.Context, annotations []model.Annotation, lastSync time.Time, exists existsFunc) ([]model.Annotation, error) {
	var fresh []model.Annotation
	for _, a := range annotations {
		if !lastSync.IsZero() && !a.CreatedDate.After(lastSync) {
			continue
		}
		found, err := exists(ctx, a.Text)
		if err != nil {
			return nil, err
		}
		if found {
			continue
		}
		fresh = append(fresh, a)
	}

	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].WordStart < fresh[j].WordStart
	})
	return fresh, nil
}
