package chunk

// Patch is a partial metadata update applied to every chunk matching a section
// title. Patches are idempotent: applying one twice yields the same state, and
// matching zero chunks is a no-op rather than an error.
type Patch struct {
	hasPage  bool
	page     *int // nil = mark page uncertain
	hasTitle bool
	title    string
}

// NewPatch creates an empty patch.
func NewPatch() Patch { return Patch{} }

// WithPageNumber returns a copy that sets the page number.
func (p Patch) WithPageNumber(n int) Patch {
	p.hasPage = true
	p.page = &n
	return p
}

// WithUncertainPage returns a copy that clears the page number to the
// "uncertain" sentinel (NULL in storage).
func (p Patch) WithUncertainPage() Patch {
	p.hasPage = true
	p.page = nil
	return p
}

// WithSectionTitle returns a copy that renames the section.
func (p Patch) WithSectionTitle(title string) Patch {
	p.hasTitle = true
	p.title = title
	return p
}

// HasPageNumber reports whether the patch touches the page number.
func (p Patch) HasPageNumber() bool { return p.hasPage }

// PageNumber returns the new page number, nil meaning uncertain.
// Only meaningful when HasPageNumber is true.
func (p Patch) PageNumber() *int { return clonePage(p.page) }

// HasSectionTitle reports whether the patch renames the section.
func (p Patch) HasSectionTitle() bool { return p.hasTitle }

// SectionTitle returns the new section title.
func (p Patch) SectionTitle() string { return p.title }

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool { return !p.hasPage && !p.hasTitle }
