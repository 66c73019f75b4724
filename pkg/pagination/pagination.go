package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultSize = 20
	MaxSize     = 100
)

// Params holds size/from paging parameters extracted from a request.
type Params struct {
	Size int
	From int
}

// FromContext reads ?size= and ?from=. limit and offset are accepted as
// aliases.
func FromContext(c echo.Context) Params {
	size := firstInt(c, "size", "limit")
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}

	from := firstInt(c, "from", "offset")
	if from < 0 {
		from = 0
	}

	return Params{Size: size, From: from}
}

func firstInt(c echo.Context, names ...string) int {
	for _, n := range names {
		if v := c.QueryParam(n); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
	}
	return 0
}

// Response wraps a page of hits.
type Response struct {
	Hits    interface{} `json:"hits"`
	Total   int         `json:"total"`
	Size    int         `json:"size"`
	From    int         `json:"from"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(hits interface{}, total int, p Params) *Response {
	return &Response{
		Hits:    hits,
		Total:   total,
		Size:    p.Size,
		From:    p.From,
		HasMore: p.HasNext(total),
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.From+p.Size < total
}
