package chunk

import (
	"fmt"
	"strings"
	"time"
)

// Document is the source document record used to validate citation page
// numbers. PageCount 0 means the real page count is unknown.
type Document struct {
	name      string
	pageCount int
	createdAt time.Time
}

// NewDocument validates and creates a Document record.
func NewDocument(name string, pageCount int) (Document, error) {
	if strings.TrimSpace(name) == "" {
		return Document{}, fmt.Errorf("document name is required")
	}
	if pageCount < 0 {
		return Document{}, fmt.Errorf("page count must not be negative, got %d", pageCount)
	}
	return Document{name: name, pageCount: pageCount}, nil
}

// ReconstructDocument creates a Document without validation (storage hydration).
func ReconstructDocument(name string, pageCount int, createdAt time.Time) Document {
	return Document{name: name, pageCount: pageCount, createdAt: createdAt}
}

// Name returns the document name.
func (d *Document) Name() string { return d.name }

// PageCount returns the total page count, 0 when unknown.
func (d *Document) PageCount() int { return d.pageCount }

// CreatedAt returns the record creation time.
func (d *Document) CreatedAt() time.Time { return d.createdAt }

// PageWithinBounds reports whether a cited page number can exist in this
// document. With an unknown page count any page is accepted.
func (d *Document) PageWithinBounds(page int) bool {
	if d.pageCount == 0 {
		return true
	}
	return page >= 0 && page <= d.pageCount
}
