package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// registryTTL bounds how stale the resolver's summary registry may get before
// a resolve triggers a refresh. Writers invalidate eagerly, so the TTL only
// matters for out-of-band writes (another process on the same store).
const registryTTL = 5 * time.Second

// Resolver maps a human-supplied selector string to exactly one report.
//
// Resolution order: exact identifier match, case-insensitive exact title,
// case-insensitive substring title, then tag match. The first tier with
// matches decides the outcome: exactly one match resolves, more than one is
// ambiguous (with the full candidate list), and a selector matching no tier
// is not_found. There is no fuzzy scoring beyond substring containment.
//
// The registry is fed from the store's ListSummaries and owned by the caller
// that constructs the Resolver — there is no package-level singleton.
type Resolver struct {
	store  storage.Store
	logger *slog.Logger

	mu        sync.RWMutex
	summaries []model.ReportSummary
	loadedAt  time.Time

	sf singleflight.Group
}

// NewResolver creates a resolver backed by the given store's registry.
func NewResolver(store storage.Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Invalidate drops the cached registry so the next Resolve reloads it.
// Called after every create and successful evolution.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.loadedAt = time.Time{}
	r.mu.Unlock()
}

// Resolve maps selector to exactly one report summary or returns a
// *ResolutionError. It never picks arbitrarily between candidates.
func (r *Resolver) Resolve(ctx context.Context, selector string) (model.ReportSummary, error) {
	selector = strings.TrimSpace(selector)
	if err := validateSelectorFormat(selector); err != nil {
		return model.ReportSummary{}, &ResolutionError{Kind: ResolutionInvalidFormat, Selector: selector}
	}

	summaries, err := r.registry(ctx)
	if err != nil {
		return model.ReportSummary{}, &ExecutionError{Op: "list report summaries", Err: err}
	}

	// Tier 1: exact identifier match. Report IDs are unique, so at most one.
	for _, s := range summaries {
		if s.ReportID == selector {
			return s, nil
		}
	}

	// Tier 2: case-insensitive exact title.
	if matched := collect(summaries, func(s model.ReportSummary) bool {
		return strings.EqualFold(s.Title, selector)
	}); len(matched) > 0 {
		return only(selector, matched)
	}

	// Tier 3: case-insensitive substring title.
	lower := strings.ToLower(selector)
	if matched := collect(summaries, func(s model.ReportSummary) bool {
		return strings.Contains(strings.ToLower(s.Title), lower)
	}); len(matched) > 0 {
		return only(selector, matched)
	}

	// Tier 4: tag match.
	if matched := collect(summaries, func(s model.ReportSummary) bool {
		return s.HasTag(selector)
	}); len(matched) > 0 {
		return only(selector, matched)
	}

	return model.ReportSummary{}, &ResolutionError{Kind: ResolutionNotFound, Selector: selector}
}

// registry returns the cached summary list, refreshing it through
// singleflight when stale so concurrent resolves share one store query.
func (r *Resolver) registry(ctx context.Context) ([]model.ReportSummary, error) {
	r.mu.RLock()
	fresh := time.Since(r.loadedAt) < registryTTL
	summaries := r.summaries
	r.mu.RUnlock()
	if fresh {
		return summaries, nil
	}

	v, err, _ := r.sf.Do("registry", func() (any, error) {
		loaded, err := r.store.ListSummaries(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.summaries = loaded
		r.loadedAt = time.Now()
		r.mu.Unlock()
		r.logger.Debug("resolver: registry refreshed", "reports", len(loaded))
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.ReportSummary), nil
}

func collect(summaries []model.ReportSummary, match func(model.ReportSummary) bool) []model.ReportSummary {
	var out []model.ReportSummary
	for _, s := range summaries {
		if match(s) {
			out = append(out, s)
		}
	}
	return out
}

// only returns the single candidate or an ambiguous error listing all of
// them. Ties within a tier are never broken silently.
func only(selector string, matched []model.ReportSummary) (model.ReportSummary, error) {
	if len(matched) == 1 {
		return matched[0], nil
	}
	return model.ReportSummary{}, &ResolutionError{
		Kind:       ResolutionAmbiguous,
		Selector:   selector,
		Candidates: matched,
	}
}

// validateSelectorFormat rejects selectors that fit no resolution rule:
// empty strings, strings longer than any legal title, invalid UTF-8, and
// control characters.
func validateSelectorFormat(selector string) error {
	if selector == "" {
		return fmt.Errorf("selector is empty")
	}
	if !utf8.ValidString(selector) {
		return fmt.Errorf("selector is not valid UTF-8")
	}
	if utf8.RuneCountInString(selector) > model.MaxTitleLen {
		return fmt.Errorf("selector exceeds %d characters", model.MaxTitleLen)
	}
	for _, r := range selector {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("selector contains control characters")
		}
	}
	return nil
}
