package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// LimitParam reads ?limit=, falling back to def when absent or not positive
// and capping at MaxLimit.
func LimitParam(c echo.Context, def int) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = def
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit
}

// FromContext extracts limit and offset from the query. Either offset or a
// 1-based page may be given; offset wins when both are present.
func FromContext(c echo.Context) Params {
	p := Params{Limit: LimitParam(c, DefaultLimit)}
	if offset, err := strconv.Atoi(c.QueryParam("offset")); err == nil && offset > 0 {
		p.Offset = offset
	} else if page, err := strconv.Atoi(c.QueryParam("page")); err == nil && page > 1 {
		p.Offset = (page - 1) * p.Limit
	}
	return p
}

func (p Params) Page() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// Response is one page of a listing. Data is never null in JSON.
type Response[T any] struct {
	Data    []T  `json:"data"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Page    int  `json:"page"`
	HasMore bool `json:"has_more"`
}

func NewResponse[T any](data []T, total int, p Params) *Response[T] {
	if data == nil {
		data = []T{}
	}
	return &Response[T]{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		Page:    p.Page(),
		HasMore: p.Offset+len(data) < total,
	}
}
