package shared

import "errors"

const (
	DefaultPage  = 1
	DefaultLimit = 25
)

var (
	ErrNotFound   = errors.New("masterdata: not found")
	ErrDuplicate  = errors.New("masterdata: duplicate code")
	ErrValidation = errors.New("masterdata: validation failed")
)

// ListFilters carries the standard list page filters.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	IsActive *bool
}

// Normalize clamps paging to sane defaults.
func (f *ListFilters) Normalize() {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
}

// Offset returns the row offset for the current page.
func (f ListFilters) Offset() int {
	return (f.Page - 1) * f.Limit
}
