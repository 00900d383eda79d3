package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/resilience"
)

// fakeParser serves records encoded as "id:price" lines.
type fakeParser struct {
	base  string
	pages int
}

func (p *fakeParser) BuildQuery(q domain.Query) (string, error) {
	return fmt.Sprintf("%s/search?page=%d", p.base, q.Page), nil
}

func (p *fakeParser) TotalPages([]byte) int { return p.pages }

func (p *fakeParser) Extract(page []byte, q domain.Query) ([]domain.PropertyRecord, error) {
	if string(page) == "garbage" {
		return nil, errors.New("unrecognized layout")
	}
	price, _ := strconv.ParseFloat(string(page), 64)
	return []domain.PropertyRecord{
		{ID: "a_" + string(page), Title: "listing", Price: price, City: q.City},
		{ID: "", Title: "no id", Price: price, City: q.City},
	}, nil
}

func newTestSite(t *testing.T, handler http.HandlerFunc, pages int) *Site {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := resilience.NewClient("fake",
		resilience.WithDelayRange(0, 0),
		resilience.WithBackoffUnit(0),
		resilience.WithMaxRetries(2))
	return NewSite("fake", client, &fakeParser{base: server.URL, pages: pages}, SiteOptions{})
}

func TestSite_FetchDropsInvalidRecords(t *testing.T) {
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("500000"))
	}, 1)

	records, err := site.Fetch(context.Background(), domain.Query{City: "Salvador", State: "BA"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 valid record, got %d", len(records))
	}
	if records[0].Source != "fake" {
		t.Errorf("expected source to default to site name, got %q", records[0].Source)
	}
	if got := site.Stats().PropertiesFound; got != 1 {
		t.Errorf("expected 1 property found, got %d", got)
	}
}

func TestSite_FetchCapsPagesAtMaxPages(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pages = append(pages, r.URL.Query().Get("page"))
		mu.Unlock()
		w.Write([]byte("100"))
	}, 10)

	records, err := site.Fetch(context.Background(), domain.Query{City: "Fortaleza", State: "CE", Page: 2, MaxPages: 3})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 records, got %d", len(records))
	}
	want := []string{"2", "3", "4"}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(pages) != fmt.Sprint(want) {
		t.Errorf("expected pages %v, got %v", want, pages)
	}
}

func TestSite_FetchParsingError(t *testing.T) {
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("garbage"))
	}, 1)

	_, err := site.Fetch(context.Background(), domain.Query{City: "Fortaleza", State: "CE"})
	if !errors.Is(err, resilience.ErrParsing) {
		t.Errorf("expected ErrParsing, got %v", err)
	}
	if got := site.Stats().ErrorsCount; got != 1 {
		t.Errorf("expected the parsing failure to be counted, got %d errors", got)
	}
}

func TestSite_FetchInvalidQuery(t *testing.T) {
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an invalid query")
	}, 1)

	_, err := site.Fetch(context.Background(), domain.Query{City: "Fortaleza"})
	if !errors.Is(err, resilience.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery in chain, got %v", err)
	}
	if got := site.Stats().ErrorsCount; got != 1 {
		t.Errorf("expected 1 error, got %d", got)
	}
}

func TestBasicValidator(t *testing.T) {
	valid := domain.PropertyRecord{ID: "x_1", Title: "t", Price: 1, City: "c"}
	if err := (BasicValidator{}).Validate(valid); err != nil {
		t.Errorf("expected valid record, got %v", err)
	}

	tests := map[string]func(r *domain.PropertyRecord){
		"missing id":    func(r *domain.PropertyRecord) { r.ID = "" },
		"missing title": func(r *domain.PropertyRecord) { r.Title = "" },
		"zero price":    func(r *domain.PropertyRecord) { r.Price = 0 },
		"missing city":  func(r *domain.PropertyRecord) { r.City = "" },
		"negative size": func(r *domain.PropertyRecord) { r.Size = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := valid
			mutate(&r)
			if err := (BasicValidator{}).Validate(r); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}
