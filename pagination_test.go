package opsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestGetPaginatedDataTarget(t *testing.T) {
	data := &fakeData{rows: `[{"id":6},{"id":7}]`, total: 12}
	client := New(WithDataBackend(data))
	defer client.Close(context.Background())

	resp, err := client.GetPaginated(context.Background(), "/rest/v1/orders", 2, 5, map[string]string{"status": "open"})
	if err != nil {
		t.Fatalf("GetPaginated: %v", err)
	}

	q := data.queries[0]
	if q.Limit != 5 || q.Offset != 5 || !q.Count || q.Filters["status"] != "open" {
		t.Errorf("query = %+v", q)
	}
	want := Pagination{Total: 12, Page: 2, PageSize: 5, HasMore: true}
	if *resp.Pagination != want {
		t.Errorf("pagination = %+v, want %+v", *resp.Pagination, want)
	}

	last, err := client.GetPaginated(context.Background(), "/rest/v1/orders", 3, 5, nil)
	if err != nil {
		t.Fatalf("GetPaginated: %v", err)
	}
	if last.Pagination.HasMore {
		t.Error("page 3 of 12 rows at 5 per page is the last one")
	}
}

func TestGetPaginatedHTTPTarget(t *testing.T) {
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		fmt.Fprint(w, `{"items":[1,2,3],"total":7}`)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	defer client.Close(context.Background())

	resp, err := client.GetPaginated(context.Background(), "/items", 2, 3, map[string]string{"sort": "name"})
	if err != nil {
		t.Fatalf("GetPaginated: %v", err)
	}
	if got.Get("page") != "2" || got.Get("limit") != "3" || got.Get("sort") != "name" {
		t.Errorf("query = %v", got)
	}
	if p := resp.Pagination; p.Total != 7 || p.Page != 2 || p.PageSize != 3 || !p.HasMore {
		t.Errorf("pagination = %+v", p)
	}
}

func TestGetPaginatedUnknownTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[1,2]`)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	defer client.Close(context.Background())

	resp, err := client.GetPaginated(context.Background(), "/items", 1, 2, nil)
	if err != nil {
		t.Fatalf("GetPaginated: %v", err)
	}
	if resp.Pagination.Total != -1 || resp.Pagination.HasMore {
		t.Errorf("pagination = %+v, want unknown total", resp.Pagination)
	}
}

func TestGetPaginatedRejectsBadPage(t *testing.T) {
	data := &fakeData{}
	client := New(WithDataBackend(data))
	defer client.Close(context.Background())

	for _, tc := range [][2]int{{0, 10}, {1, 0}, {-1, -1}} {
		_, err := client.GetPaginated(context.Background(), "/rest/v1/orders", tc[0], tc[1], nil)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("page %d size %d: err = %v, want validation", tc[0], tc[1], err)
		}
	}
	if len(data.queries) != 0 {
		t.Error("invalid pages must not reach the backend")
	}
}

func TestGetPageDecodes(t *testing.T) {
	type order struct {
		ID int `json:"id"`
	}
	data := &fakeData{rows: `[{"id":1},{"id":2}]`, total: 2}
	client := New(WithDataBackend(data))
	defer client.Close(context.Background())

	page, err := GetPage[[]order](context.Background(), client, "/rest/v1/orders", 1, 10, nil)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if len(page.Data) != 2 || page.Data[1].ID != 2 {
		t.Errorf("data = %+v", page.Data)
	}
	if page.Pagination.Total != 2 || page.Pagination.HasMore {
		t.Errorf("pagination = %+v", page.Pagination)
	}
}
