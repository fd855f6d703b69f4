package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FlavorKeyPrefix namespaces flavor-text entries so they can be invalidated
// without wiping raw entity data.
const FlavorKeyPrefix = "flavor:"

// DefaultFlavorLanguage is the fallback when no entry matches the requested
// UI language.
const DefaultFlavorLanguage = "en"

// FlavorEntry is one localized flavor-text entry of a species resource.
type FlavorEntry struct {
	Text     string
	Language string
}

// SpeciesFlavorLoader fetches the flavor-text entries of one species.
type SpeciesFlavorLoader func(ctx context.Context, speciesID int) ([]FlavorEntry, error)

// languageTags maps a UI language to the source-language tags it accepts.
// Unlisted languages accept only their own tag.
var languageTags = map[string][]string{
	"en": {"en"},
	"es": {"es", "es-ES"},
	"ja": {"ja", "ja-Hrkt"},
	"zh": {"zh-Hans", "zh-Hant"},
	"pt": {"pt", "pt-BR"},
}

// FlavorProvider serves deduplicated, language-filtered flavor text through
// its own cache namespace. The derived result is cached with a longer TTL
// than raw entity data because computing it costs a species fetch.
type FlavorProvider struct {
	cache  *Cache[[]string]
	loader SpeciesFlavorLoader
	ttl    time.Duration
}

// NewFlavorProvider creates a provider backed by the given cache and loader.
func NewFlavorProvider(c *Cache[[]string], loader SpeciesFlavorLoader, ttl time.Duration) *FlavorProvider {
	return &FlavorProvider{cache: c, loader: loader, ttl: ttl}
}

// Get returns the ordered, deduplicated flavor texts of a species in the
// requested UI language, falling back to the default language when nothing
// matches.
func (p *FlavorProvider) Get(ctx context.Context, speciesID int, lang string) ([]string, error) {
	key := flavorKey(speciesID, lang)
	return p.cache.Get(ctx, key, p.ttl, func(ctx context.Context) ([]string, error) {
		entries, err := p.loader(ctx, speciesID)
		if err != nil {
			return nil, err
		}
		return DedupFlavorText(entries, lang), nil
	})
}

// Invalidate drops all cached flavor text, leaving raw entity entries alone.
func (p *FlavorProvider) Invalidate() int {
	return p.cache.Invalidate(FlavorKeyPrefix)
}

func flavorKey(speciesID int, lang string) string {
	return fmt.Sprintf("%s%d:%s", FlavorKeyPrefix, speciesID, lang)
}

// DedupFlavorText filters entries to the tags accepted for lang (falling
// back to the default language when no entry matches), then deduplicates by
// trimmed string equality keeping the first occurrence, preserving order.
func DedupFlavorText(entries []FlavorEntry, lang string) []string {
	matched := filterByLanguage(entries, acceptedTags(lang))
	if len(matched) == 0 && lang != DefaultFlavorLanguage {
		matched = filterByLanguage(entries, acceptedTags(DefaultFlavorLanguage))
	}

	seen := make(map[string]struct{}, len(matched))
	texts := make([]string, 0, len(matched))
	for _, e := range matched {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		texts = append(texts, text)
	}
	return texts
}

func acceptedTags(lang string) []string {
	if tags, ok := languageTags[lang]; ok {
		return tags
	}
	return []string{lang}
}

func filterByLanguage(entries []FlavorEntry, tags []string) []FlavorEntry {
	matched := make([]FlavorEntry, 0, len(entries))
	for _, e := range entries {
		for _, tag := range tags {
			if e.Language == tag {
				matched = append(matched, e)
				break
			}
		}
	}
	return matched
}
