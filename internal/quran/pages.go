// Package quran tracks per-group reading progress through the mushaf and
// resolves page numbers to image references.
package quran

import (
	"fmt"
	"strings"
)

// DefaultTotalPages is the standard Madani mushaf page count.
const DefaultTotalPages = 604

// Pages resolves page numbers to sendable image references.
type Pages struct {
	urlTemplate string // printf template with one %d verb
	total       int
}

func NewPages(urlTemplate string, total int) *Pages {
	if total <= 0 {
		total = DefaultTotalPages
	}
	return &Pages{urlTemplate: urlTemplate, total: total}
}

func (p *Pages) Total() int { return p.total }

// URL returns the image reference for a single page.
func (p *Pages) URL(page int) (string, error) {
	if page < 1 || page > p.total {
		return "", fmt.Errorf("page %d out of range 1..%d", page, p.total)
	}
	if !strings.Contains(p.urlTemplate, "%d") {
		return "", fmt.Errorf("page url template %q has no %%d verb", p.urlTemplate)
	}
	return fmt.Sprintf(p.urlTemplate, page), nil
}

// URLs maps a run of pages to image references, in order.
func (p *Pages) URLs(pages []int) ([]string, error) {
	out := make([]string, 0, len(pages))
	for _, pg := range pages {
		u, err := p.URL(pg)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
