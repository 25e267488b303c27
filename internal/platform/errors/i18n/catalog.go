// Package i18n renders user-facing messages for platform error codes.
package i18n

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/language"
)

// BaseLocale is the locale used when no better match exists.
const BaseLocale = "en-US"

// Code mirrors errors.Code; the errors package imports this one.
type Code = string

// Catalog holds the message templates of one locale.
type Catalog struct {
	locale    string
	raw       map[Code]string
	templates map[Code]*template.Template
}

// NewCatalog parses messages into a catalog for locale. Templates that fail to
// parse are rendered verbatim.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	c := &Catalog{
		locale:    locale,
		raw:       maps.Clone(messages),
		templates: make(map[Code]*template.Template, len(messages)),
	}
	for code, text := range messages {
		if tmpl, err := template.New(code).Parse(text); err == nil {
			c.templates[code] = tmpl
		}
	}
	return c
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message for code with metadata. Unknown codes render as
// the code itself.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	text, ok := c.raw[code]
	if !ok {
		return code
	}
	tmpl := c.templates[code]
	if tmpl == nil {
		return text
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, metadata); err != nil {
		return text
	}
	return b.String()
}

type registry struct {
	mu       sync.RWMutex
	catalogs map[string]*Catalog
	names    []string
	matcher  language.Matcher
}

var catalogs = newRegistry(
	NewCatalog(BaseLocale, enUSMessages),
	NewCatalog("pt-BR", ptBRMessages),
)

func newRegistry(initial ...*Catalog) *registry {
	r := &registry{catalogs: make(map[string]*Catalog)}
	for _, c := range initial {
		r.catalogs[c.locale] = c
	}
	r.rebuild()
	return r
}

// rebuild refreshes the matcher. Callers hold mu. The base locale is the
// first tag so the matcher falls back to it.
func (r *registry) rebuild() {
	others := slices.Sorted(maps.Keys(r.catalogs))
	r.names = []string{BaseLocale}
	tags := []language.Tag{language.MustParse(BaseLocale)}
	for _, name := range others {
		if name == BaseLocale {
			continue
		}
		tag, err := language.Parse(name)
		if err != nil {
			continue
		}
		r.names = append(r.names, name)
		tags = append(tags, tag)
	}
	r.matcher = language.NewMatcher(tags)
}

// GetCatalog returns the catalog that best matches locale. locale may be a
// single tag or an Accept-Language value.
func GetCatalog(locale string) *Catalog {
	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = BaseLocale
	}
	catalogs.mu.RLock()
	defer catalogs.mu.RUnlock()
	if c, ok := catalogs.catalogs[requested]; ok {
		return c
	}
	_, index := language.MatchStrings(catalogs.matcher, requested)
	return catalogs.catalogs[catalogs.names[index]]
}

// RegisterCatalog registers cat for locale, replacing any existing one.
func RegisterCatalog(locale string, cat *Catalog) {
	catalogs.mu.Lock()
	defer catalogs.mu.Unlock()
	catalogs.catalogs[locale] = cat
	catalogs.rebuild()
}
