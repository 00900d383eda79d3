package vivareal

import (
	"net/url"
	"os"
	"testing"

	"property-acquisition/internal/domain"
)

func TestParser_BuildQuery(t *testing.T) {
	p := NewParser("https://www.vivareal.com.br", nil)

	got, err := p.BuildQuery(domain.Query{
		City:      "Belo Horizonte",
		State:     "MG",
		PriceMax:  500000,
		Bathrooms: 2,
		SizeMax:   90,
		Page:      3,
	})
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Path != "/venda/mg/belo-horizonte/" {
		t.Errorf("unexpected path %q", u.Path)
	}
	for k, v := range map[string]string{"preco-maximo": "500000", "banheiros": "2", "area-util-maxima": "90", "pagina": "3"} {
		if u.Query().Get(k) != v {
			t.Errorf("param %s: expected %q, got %q", k, v, u.Query().Get(k))
		}
	}
}

func TestParser_ExtractAndPages(t *testing.T) {
	page, err := os.ReadFile("testdata/search.html")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	p := NewParser("https://www.vivareal.com.br", nil)

	records, err := p.Extract(page, domain.Query{City: "Rio de Janeiro", State: "RJ"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.ID != "vivareal_2598765432" {
		t.Errorf("unexpected id %q", first.ID)
	}
	if first.Price != 1100000 {
		t.Errorf("expected price 1100000, got %v", first.Price)
	}
	if first.Size != 120 || first.Bedrooms != 3 || first.Bathrooms != 2 {
		t.Errorf("unexpected details size=%d bedrooms=%d bathrooms=%d", first.Size, first.Bedrooms, first.Bathrooms)
	}
	if first.Neighborhood != "Copacabana" {
		t.Errorf("unexpected neighborhood %q", first.Neighborhood)
	}

	second := records[1]
	if second.Price != 980000 {
		t.Errorf("expected price 980000, got %v", second.Price)
	}
	if second.Neighborhood != "Leblon" {
		t.Errorf("unexpected neighborhood %q", second.Neighborhood)
	}

	// pager buttons win over the result count estimate
	if got := p.TotalPages(page); got != 4 {
		t.Errorf("expected 4 pages, got %d", got)
	}
}

func TestParser_TotalPagesSummary(t *testing.T) {
	p := NewParser("", nil)

	tests := []struct {
		name string
		html string
		want int
	}{
		{"summary", `<html><body><span>Página 1 de 8 páginas</span></body></html>`, 8},
		{"results estimate", `<html><body><div>45 resultados</div></body></html>`, 3},
		{"nothing", `<html><body></body></html>`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.TotalPages([]byte(tt.html)); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
