package services

// Page is a 1-based pagination request.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NewPage clamps number and size into a usable page.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	p = NewPage(p.Number, p.Size)
	return (p.Number - 1) * p.Size
}

// Limit is the page size after clamping.
func (p Page) Limit() int {
	return NewPage(p.Number, p.Size).Size
}

// Pagination describes a page of a larger result.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func paginate(p Page, total int64) Pagination {
	p = NewPage(p.Number, p.Size)
	return Pagination{
		Page:       p.Number,
		PageSize:   p.Size,
		Total:      total,
		TotalPages: int((total + int64(p.Size) - 1) / int64(p.Size)),
	}
}
