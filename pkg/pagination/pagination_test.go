package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		target string
		size   int
		from   int
	}{
		{"/", DefaultSize, 0},
		{"/?size=20&from=0", 20, 0},
		{"/?size=5&from=10", 5, 10},
		{"/?size=1000", MaxSize, 0},
		{"/?size=-1&from=-4", DefaultSize, 0},
		{"/?limit=7&offset=14", 7, 14},
		{"/?size=abc", DefaultSize, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			p := FromContext(contextFor(tt.target))
			if p.Size != tt.size || p.From != tt.from {
				t.Errorf("FromContext(%s) = %+v, want size=%d from=%d", tt.target, p, tt.size, tt.from)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	p := Params{Size: 20, From: 0}
	r := NewResponse([]string{"a"}, 45, p)
	if !r.HasMore || r.Total != 45 || r.Size != 20 {
		t.Errorf("unexpected response %+v", r)
	}
	if NewResponse(nil, 20, p).HasMore {
		t.Error("expected no more results on the last page")
	}
}
