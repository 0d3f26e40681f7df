// Package i18n renders user-facing status and error strings in the caller's
// locale. The catalog is an explicitly constructed object with a capped
// memoization cache rather than a process-global map.
package i18n

import (
	"fmt"
	"sync"

	"golang.org/x/text/language"
)

var supported = []language.Tag{
	language.English, // first entry is the fallback
	language.Russian,
}

var messages = map[string]map[string]string{
	"en": {
		"status.queued":     "Queued (position %d)",
		"status.running":    "Generating, attempt %d...",
		"status.retrying":   "Hit a snag, retrying: %s",
		"status.done":       "Done!",
		"status.failed":     "Generation failed: %s",
		"status.canceled":   "Canceled",
		"error.oom":         "The engine ran out of memory even at the lowest quality tier. Try again later or lower the requested quality.",
		"error.rejected":    "The engine rejected the request: %s",
		"error.no_response": "The engine did not respond in time.",
	},
	"ru": {
		"status.queued":     "В очереди (позиция %d)",
		"status.running":    "Генерация, попытка %d...",
		"status.retrying":   "Ошибка, повтор: %s",
		"status.done":       "Готово!",
		"status.failed":     "Ошибка генерации: %s",
		"status.canceled":   "Отменено",
		"error.oom":         "Движку не хватило памяти даже на минимальном качестве. Попробуйте позже или снизьте качество.",
		"error.rejected":    "Движок отклонил запрос: %s",
		"error.no_response": "Движок не ответил вовремя.",
	},
}

// Catalog resolves locale tags and formats catalog messages.
type Catalog struct {
	matcher  language.Matcher
	fallback string

	mu       sync.Mutex
	cache    map[string]string
	cacheCap int
}

// NewCatalog builds a catalog with a bounded format cache.
func NewCatalog(fallbackLocale string) *Catalog {
	if _, ok := messages[fallbackLocale]; !ok {
		fallbackLocale = "en"
	}
	return &Catalog{
		matcher:  language.NewMatcher(supported),
		fallback: fallbackLocale,
		cache:    make(map[string]string),
		cacheCap: 512,
	}
}

// Resolve maps an arbitrary locale string onto a supported catalog language.
func (c *Catalog) Resolve(locale string) string {
	if locale == "" {
		return c.fallback
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return c.fallback
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf == language.No {
		return c.fallback
	}
	base, _ := supported[idx].Base()
	if _, ok := messages[base.String()]; ok {
		return base.String()
	}
	return c.fallback
}

// T formats the catalog message key for the locale. Unknown keys render as
// the key itself so a missing translation is visible rather than silent.
func (c *Catalog) T(locale, key string, args ...any) string {
	lang := c.Resolve(locale)

	if len(args) == 0 {
		if s := c.cached(lang, key); s != "" {
			return s
		}
	}

	table, ok := messages[lang]
	if !ok {
		table = messages[c.fallback]
	}
	tmpl, ok := table[key]
	if !ok {
		tmpl, ok = messages[c.fallback][key]
		if !ok {
			return key
		}
	}

	if len(args) == 0 {
		c.remember(lang, key, tmpl)
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

func (c *Catalog) cached(lang, key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache[lang+"\x00"+key]
}

// remember stores a resolved message. When the cap is reached the cache is
// reset wholesale; entries are tiny and rebuilt on demand.
func (c *Catalog) remember(lang, key, val string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cache) >= c.cacheCap {
		c.cache = make(map[string]string)
	}
	c.cache[lang+"\x00"+key] = val
}
