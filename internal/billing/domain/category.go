package billing

import (
	"strings"

	"residence-cloud/internal/apperr"
)

// Category is the bill bucket a service is charged into.
type Category string

const (
	CategoryElectric Category = "electric"
	CategoryWater    Category = "water"
	CategoryService  Category = "service"
	CategoryVehicles Category = "vehicles"
	CategoryOther    Category = "other"
)

// Categories lists every bucket in bill order.
var Categories = []Category{CategoryElectric, CategoryWater, CategoryService, CategoryVehicles, CategoryOther}

// ParseCategory validates a category tag.
func ParseCategory(value string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	switch c {
	case CategoryElectric, CategoryWater, CategoryService, CategoryVehicles, CategoryOther:
		return c, nil
	}
	return "", apperr.Validation("unknown category %q", value)
}

// CategoryResolver maps untagged service names onto categories.
type CategoryResolver struct {
	aliases map[string]Category
}

// NewCategoryResolver builds a resolver from a name -> category table. Entries
// with an unknown category are ignored.
func NewCategoryResolver(aliases map[string]string) *CategoryResolver {
	table := make(map[string]Category, len(aliases))
	for name, tag := range aliases {
		c, err := ParseCategory(tag)
		if err != nil {
			continue
		}
		table[normalizeName(name)] = c
	}
	return &CategoryResolver{aliases: table}
}

// Resolve returns the category for a service name, or CategoryOther.
func (r *CategoryResolver) Resolve(name string) Category {
	if r == nil {
		return CategoryOther
	}
	key := normalizeName(name)
	if c, ok := r.aliases[key]; ok {
		return c
	}
	// "Gửi xe máy" and "Gửi xe ô tô" both start with the "gửi xe" alias.
	best, bestLen := CategoryOther, 0
	for alias, c := range r.aliases {
		if len(alias) > bestLen && strings.HasPrefix(key, alias+" ") {
			best, bestLen = c, len(alias)
		}
	}
	return best
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ServiceKey is the comparison key for service names: case-folded with
// whitespace collapsed.
func ServiceKey(name string) string {
	return normalizeName(name)
}
