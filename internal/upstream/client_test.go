package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeUpstream serves a fixed set of records, honoring page/pageSize, with
// per-size behavior overrides for failure injection.
type fakeUpstream struct {
	records  []Record
	behavior map[int]func(w http.ResponseWriter, page int) bool // return true when handled
	requests int
}

func (f *fakeUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.requests++

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

		if fn, ok := f.behavior[size]; ok {
			if fn(w, page) {
				return
			}
		}

		start := (page - 1) * size
		end := start + size
		if start > len(f.records) {
			start = len(f.records)
		}
		if end > len(f.records) {
			end = len(f.records)
		}

		resp := searchResponse{
			TotalProperty: totalProperty{PropertyCount: len(f.records)},
			Results:       f.records[start:end],
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func makeRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			PropertyID:    PropertyID(fmt.Sprintf("R%04d", i)),
			DisplayName:   "OWNER",
			PropType:      "R",
			StreetPrimary: "123 Main St",
		}
	}
	return records
}

func newTestClient(t *testing.T, f *fakeUpstream, sizes []int) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, sizes, 5*time.Second, nil)
}

func TestFetch_SinglePage(t *testing.T) {
	f := &fakeUpstream{records: makeRecords(7)}
	c := newTestClient(t, f, []int{1000, 500, 100, 50})

	got, err := c.Fetch(context.Background(), "tok", "smith", 2026)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.TotalCount != 7 || len(got.Records) != 7 || got.PageSizeUsed != 1000 {
		t.Errorf("got total=%d records=%d size=%d", got.TotalCount, len(got.Records), got.PageSizeUsed)
	}
}

func TestFetch_Paginates(t *testing.T) {
	f := &fakeUpstream{records: makeRecords(5)}
	c := newTestClient(t, f, []int{2})

	got, err := c.Fetch(context.Background(), "tok", "smith", 2026)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got.Records) != 5 {
		t.Fatalf("got %d records, want 5", len(got.Records))
	}
	// Pages concatenate in index order.
	for i, r := range got.Records {
		want := PropertyID(fmt.Sprintf("R%04d", i))
		if r.PropertyID != want {
			t.Errorf("record %d = %s, want %s", i, r.PropertyID, want)
		}
	}
}

func TestFetch_TruncationFallsToSmallerSize(t *testing.T) {
	f := &fakeUpstream{
		records: makeRecords(3),
		behavior: map[int]func(http.ResponseWriter, int) bool{
			1000: func(w http.ResponseWriter, page int) bool {
				fmt.Fprint(w, `{"totalProperty": {"propertyCount": 3}, "results": [{"pid": "R00`)
				return true
			},
		},
	}
	c := newTestClient(t, f, []int{1000, 500})

	got, err := c.Fetch(context.Background(), "tok", "smith", 2026)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.PageSizeUsed != 500 {
		t.Errorf("PageSizeUsed = %d, want 500", got.PageSizeUsed)
	}
	if len(got.Records) != 3 {
		t.Errorf("got %d records, want 3", len(got.Records))
	}
}

func TestFetch_LaterPageTruncationDiscardsAccumulated(t *testing.T) {
	f := &fakeUpstream{records: makeRecords(6)}
	f.behavior = map[int]func(http.ResponseWriter, int) bool{
		2: func(w http.ResponseWriter, page int) bool {
			if page == 2 {
				fmt.Fprint(w, `{"totalProperty": {"propertyCount": 6}, "results": [`)
				return true
			}
			return false
		},
	}
	c := newTestClient(t, f, []int{2, 1})

	got, err := c.Fetch(context.Background(), "tok", "smith", 2026)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	// Size 2 died on page 2; everything must come from size 1 alone.
	if got.PageSizeUsed != 1 {
		t.Errorf("PageSizeUsed = %d, want 1", got.PageSizeUsed)
	}
	if len(got.Records) != 6 {
		t.Errorf("got %d records, want 6 with no duplicates from the failed size", len(got.Records))
	}
}

func TestFetch_OverloadedFallsToSmallerSize(t *testing.T) {
	for _, status := range []int{409, 504} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			f := &fakeUpstream{
				records: makeRecords(2),
				behavior: map[int]func(http.ResponseWriter, int) bool{
					1000: func(w http.ResponseWriter, page int) bool {
						w.WriteHeader(status)
						return true
					},
				},
			}
			c := newTestClient(t, f, []int{1000, 500})

			got, err := c.Fetch(context.Background(), "tok", "smith", 2026)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if got.PageSizeUsed != 500 {
				t.Errorf("PageSizeUsed = %d, want 500", got.PageSizeUsed)
			}
		})
	}
}

func TestFetch_Unauthorized(t *testing.T) {
	f := &fakeUpstream{
		behavior: map[int]func(http.ResponseWriter, int) bool{
			1000: func(w http.ResponseWriter, page int) bool {
				w.WriteHeader(http.StatusUnauthorized)
				return true
			},
		},
	}
	c := newTestClient(t, f, []int{1000, 500})

	_, err := c.Fetch(context.Background(), "tok", "smith", 2026)
	if !IsKind(err, KindTokenExpired) {
		t.Errorf("err = %v, want kind TOKEN_EXPIRED", err)
	}
	// 401 aborts the ladder; smaller sizes are never tried.
	if f.requests != 1 {
		t.Errorf("made %d requests, want 1", f.requests)
	}
}

func TestFetch_UnexpectedStatus(t *testing.T) {
	f := &fakeUpstream{
		behavior: map[int]func(http.ResponseWriter, int) bool{
			1000: func(w http.ResponseWriter, page int) bool {
				w.WriteHeader(http.StatusInternalServerError)
				return true
			},
		},
	}
	c := newTestClient(t, f, []int{1000, 500})

	_, err := c.Fetch(context.Background(), "tok", "smith", 2026)
	if !IsKind(err, "HTTP_500") {
		t.Errorf("err = %v, want kind HTTP_500", err)
	}
}

func TestFetch_AllPageSizesFailed(t *testing.T) {
	truncate := func(w http.ResponseWriter, page int) bool {
		fmt.Fprint(w, `{"totalProperty": {"propertyCount": 1}, "results": [`)
		return true
	}
	f := &fakeUpstream{
		behavior: map[int]func(http.ResponseWriter, int) bool{
			1000: truncate,
			500:  truncate,
		},
	}
	c := newTestClient(t, f, []int{1000, 500})

	_, err := c.Fetch(context.Background(), "tok", "smith", 2026)
	if !IsKind(err, KindAllPageSizesFailed) {
		t.Errorf("err = %v, want kind ALL_PAGE_SIZES_FAILED", err)
	}
	// The last size's failure reason rides along in the error string.
	if !strings.Contains(err.Error(), "truncated") {
		t.Errorf("err = %v, want last reason appended", err)
	}
}

func TestFetch_RequestWireFormat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		fmt.Fprint(w, `{"totalProperty": {"propertyCount": 0}, "results": []}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, []int{1000}, time.Second, nil)
	if _, err := c.Fetch(context.Background(), "tok", "smith", 2026); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	year, _ := body["pYear"].(map[string]any)
	if year["operator"] != "=" || year["value"] != "2026" {
		t.Errorf("pYear = %v, want operator %q and string value %q", year, "=", "2026")
	}
	search, _ := body["fullTextSearch"].(map[string]any)
	if search["operator"] != "match" || search["value"] != "smith" {
		t.Errorf("fullTextSearch = %v", search)
	}
}

func TestRecord_DecodesUpstreamFieldNames(t *testing.T) {
	raw := `{
		"pid": "R123",
		"displayName": "SMITH JOHN",
		"propType": "R",
		"city": "Lubbock",
		"streetPrimary": "123 Main St",
		"assessedValue": 100,
		"appraisedValue": 200,
		"geoID": "G-1",
		"legalDescription": "LOT 1"
	}`
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.PropertyID != "R123" || r.DisplayName != "SMITH JOHN" || r.StreetPrimary != "123 Main St" {
		t.Errorf("got %+v", r)
	}
	if r.City == nil || *r.City != "Lubbock" {
		t.Errorf("City = %v", r.City)
	}
	if r.AssessedValue == nil || *r.AssessedValue != 100 || r.AppraisedValue == nil || *r.AppraisedValue != 200 {
		t.Errorf("values = %v / %v", r.AssessedValue, r.AppraisedValue)
	}
	if r.GeoID == nil || *r.GeoID != "G-1" || r.LegalDescription == nil || *r.LegalDescription != "LOT 1" {
		t.Errorf("got %+v", r)
	}
}

func TestFetch_StopsAtPageCap(t *testing.T) {
	f := &fakeUpstream{records: makeRecords(maxPages + 2)}
	c := newTestClient(t, f, []int{1})

	got, err := c.Fetch(context.Background(), "tok", "smith", 2026)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got.Records) != maxPages {
		t.Errorf("got %d records, want %d at the page cap", len(got.Records), maxPages)
	}
	if f.requests != maxPages {
		t.Errorf("made %d requests, want %d", f.requests, maxPages)
	}
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, []int{1000}, time.Second, nil)
	_, err := c.Fetch(context.Background(), "tok", "smith", 2026)
	if !IsKind(err, KindTransportError) {
		t.Errorf("err = %v, want kind TRANSPORT_ERROR", err)
	}
}

func TestFetch_NoToken(t *testing.T) {
	c := NewClient("http://localhost:0", []int{1000}, time.Second, nil)
	_, err := c.Fetch(context.Background(), "", "smith", 2026)
	if !IsKind(err, KindNoToken) {
		t.Errorf("err = %v, want kind NO_TOKEN", err)
	}
}

func TestIsTruncated(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"totalProperty": {"propertyCount": 1}, "results": []}`, false},
		{`[{"a": 1}]`, false},
		{"{\"a\": 1}\n  ", false},
		{`{"totalProperty": {"propertyCount": 1}, "results": [{"pid`, true},
		{`{"totalProperty": {"propertyCount": 1}, "results": [{"a": 1},`, true},
		{"", true},
		{"   \n", true},
	}
	for _, tt := range tests {
		if got := isTruncated([]byte(tt.body)); got != tt.want {
			t.Errorf("isTruncated(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestPropertyID_UnmarshalFlexible(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`{"pid": "R123"}`), &r); err != nil {
		t.Fatalf("string id: %v", err)
	}
	if r.PropertyID != "R123" {
		t.Errorf("string id = %s", r.PropertyID)
	}

	if err := json.Unmarshal([]byte(`{"pid": 456789}`), &r); err != nil {
		t.Fatalf("numeric id: %v", err)
	}
	if r.PropertyID != "456789" {
		t.Errorf("numeric id = %s", r.PropertyID)
	}
}
