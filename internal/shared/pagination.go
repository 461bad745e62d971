package shared

// Page describes one slice of a paginated listing.
type Page struct {
	Number     int `json:"page"`
	Size       int `json:"limit"`
	TotalItems int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PageOf builds listing metadata from the requested page, the page size and
// the unpaginated row count. Out-of-range inputs fall back to the first page
// of twenty rows, matching the repository defaults.
func PageOf(page, size, total int) Page {
	if size <= 0 {
		size = 20
	}
	if page <= 0 {
		page = 1
	}
	pages := total / size
	if total%size != 0 {
		pages++
	}
	return Page{Number: page, Size: size, TotalItems: total, TotalPages: pages}
}
