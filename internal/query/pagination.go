package query

// PageSizeOptions are the page sizes offered in the UI. Other positive sizes
// are accepted too.
var PageSizeOptions = []int{5, 10, 25, 50, 100}

// Pagination describes one page of a filtered, sorted result. It is built the
// same way whether the page came from the database or from an in-memory sort.
type Pagination struct {
	TotalRecords       int  `json:"total_records"`
	TotalPages         int  `json:"total_pages"`
	CurrentPage        int  `json:"current_page"`
	PageSize           int  `json:"page_size"`
	HasPrevious        bool `json:"has_previous"`
	HasNext            bool `json:"has_next"`
	PreviousPageNumber int  `json:"previous_page_number,omitempty"`
	NextPageNumber     int  `json:"next_page_number,omitempty"`
	// StartIndex and EndIndex are the 1-based positions of the first and last
	// record on the page, both zero for an empty page.
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`
}

// NewPagination requires pageSize > 0 and page >= 1.
func NewPagination(total, pageSize, page int) Pagination {
	p := Pagination{
		TotalRecords: total,
		TotalPages:   total / pageSize,
		CurrentPage:  page,
		PageSize:     pageSize,
	}
	if total%pageSize != 0 {
		p.TotalPages++
	}
	p.HasPrevious = page > 1
	p.HasNext = page < p.TotalPages
	if p.HasPrevious {
		p.PreviousPageNumber = page - 1
	}
	if p.HasNext {
		p.NextPageNumber = page + 1
	}
	if page <= p.TotalPages {
		offset := (page - 1) * pageSize
		p.StartIndex = offset + 1
		p.EndIndex = offset + min(pageSize, total-offset)
	}
	return p
}

// Offset is the number of matching records before the page, capped at
// TotalRecords for pages past the end.
func (p Pagination) Offset() int {
	if p.CurrentPage > p.TotalPages {
		return p.TotalRecords
	}
	return (p.CurrentPage - 1) * p.PageSize
}

// Pages lists every page number, for rendering page links.
func (p Pagination) Pages() []int {
	pages := make([]int, p.TotalPages)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}
