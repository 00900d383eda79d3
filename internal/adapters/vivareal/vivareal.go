// Package vivareal implements the VivaReal search page adapter.
package vivareal

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"property-acquisition/internal/adapters"
	"property-acquisition/internal/domain"
	"property-acquisition/internal/resilience"
)

const (
	Name           = "vivareal"
	DefaultBaseURL = "https://www.vivareal.com.br"

	resultsPerPage = 20
)

var (
	propertyTypes = map[string]bool{"apartamento": true, "casa": true, "cobertura": true, "loft": true, "studio": true}
	summaryRe     = regexp.MustCompile(`Página \d+ de (\d+) páginas?`)
	resultsRe     = regexp.MustCompile(`(\d[\d.]*)\s*resultados?`)
)

const (
	cardSelector    = "article.property-card, div.property-card, article.listing-item, div.listing-item"
	cardAltSelector = `article[data-cy="listing-item"]`
	titleSelector   = "h3.property-card__title, h2.property-card__title, h3.listing-title, h2.listing-title, [data-cy=\"listing-title\"]"
	priceSelector   = ".property-card__price, .listing-price, [data-cy=\"listing-price\"]"
	addressSelector = ".property-card__address, .listing-address, [data-cy=\"listing-address\"]"
	detailsSelector = ".property-card__details, .listing-details"
	detailSelector  = "[class*=\"property-card__detail\"], [class*=\"listing-detail\"]"
	linkSelector    = "a.property-card__link, a.listing-link"
	pagerSelector   = "nav.pagination, div.pagination, nav.paginator, div.paginator, div.pages-nav"
)

// Parser builds VivaReal search URLs and extracts listing cards.
type Parser struct {
	baseURL string
	logger  *slog.Logger
}

var _ adapters.Parser = (*Parser)(nil)

func NewParser(baseURL string, logger *slog.Logger) *Parser {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Options configures the VivaReal source.
type Options struct {
	BaseURL       string
	Logger        *slog.Logger
	Validator     adapters.RecordValidator
	ClientOptions []resilience.ClientOption
}

// New creates the VivaReal source.
func New(opts Options) *adapters.Site {
	clientOpts := append([]resilience.ClientOption{
		resilience.WithDelayRange(1500*time.Millisecond, 3500*time.Millisecond),
		resilience.WithMaxRetries(3),
		resilience.WithLogger(opts.Logger),
	}, opts.ClientOptions...)

	return adapters.NewSite(Name,
		resilience.NewClient(Name, clientOpts...),
		NewParser(opts.BaseURL, opts.Logger),
		adapters.SiteOptions{Validator: opts.Validator, Logger: opts.Logger})
}

// BuildQuery returns /<transaction>/<uf>/<city-slug>/[type/]?filters.
func (p *Parser) BuildQuery(q domain.Query) (string, error) {
	if strings.TrimSpace(q.City) == "" || strings.TrimSpace(q.State) == "" {
		return "", domain.ErrInvalidQuery
	}
	transaction := strings.ToLower(q.TransactionType)
	if transaction == "" {
		transaction = domain.DefaultTransactionType
	}

	path := fmt.Sprintf("/%s/%s/%s/", transaction, strings.ToLower(strings.TrimSpace(q.State)), adapters.CitySlug(q.City))
	if pt := strings.ToLower(q.PropertyType); propertyTypes[pt] {
		path += pt + "/"
	}

	var params []string
	add := func(key string, v int) {
		if v > 0 {
			params = append(params, key+"="+strconv.Itoa(v))
		}
	}
	if q.PriceMin > 0 {
		params = append(params, "preco-minimo="+strconv.FormatFloat(q.PriceMin, 'f', -1, 64))
	}
	if q.PriceMax > 0 {
		params = append(params, "preco-maximo="+strconv.FormatFloat(q.PriceMax, 'f', -1, 64))
	}
	add("quartos", q.Bedrooms)
	add("banheiros", q.Bathrooms)
	add("area-util-minima", q.SizeMin)
	add("area-util-maxima", q.SizeMax)
	if q.Page > 1 {
		add("pagina", q.Page)
	}

	u := p.baseURL + path
	if len(params) > 0 {
		u += "?" + strings.Join(params, "&")
	}
	return u, nil
}

// TotalPages prefers the "Página X de N" summary, then the pager buttons,
// then estimates from the result count.
func (p *Parser) TotalPages(page []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return 1
	}

	text := doc.Find("body").Text()
	if m := summaryRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}

	total := 0
	doc.Find(pagerSelector).First().Find("button, a").Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > total {
			total = n
		}
	})
	if total > 0 {
		return total
	}

	if m := resultsRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ".", "")); err == nil && n > 0 {
			return (n + resultsPerPage - 1) / resultsPerPage
		}
	}
	return 1
}

// Extract parses listing cards, skipping cards without title or price.
func (p *Parser) Extract(page []byte, q domain.Query) ([]domain.PropertyRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	cards := doc.Find(cardSelector)
	if cards.Length() == 0 {
		cards = doc.Find(cardAltSelector)
	}

	var (
		records []domain.PropertyRecord
		skipped int
	)
	cards.Each(func(_ int, card *goquery.Selection) {
		r, err := p.extractCard(card, q)
		if err != nil {
			skipped++
			p.logger.Debug("skipping card", "source", Name, "error", err)
			return
		}
		records = append(records, r)
	})

	if skipped > 0 && len(records) == 0 {
		return nil, fmt.Errorf("no parseable cards out of %d", skipped)
	}
	return records, nil
}

func (p *Parser) extractCard(card *goquery.Selection, q domain.Query) (domain.PropertyRecord, error) {
	r := domain.PropertyRecord{Source: Name, City: q.City, PropertyType: q.PropertyType}

	title := card.Find(titleSelector).First()
	if title.Length() == 0 {
		title = card.Find("h2, h3").First()
	}
	if r.Title = adapters.CleanText(title.Text()); r.Title == "" {
		return r, fmt.Errorf("missing title")
	}

	priceText := adapters.CleanText(card.Find(priceSelector).First().Text())
	price, ok := adapters.ParsePrice(priceText)
	if !ok {
		return r, fmt.Errorf("unparseable price %q", priceText)
	}
	r.Price = price

	r.Address = adapters.CleanText(card.Find(addressSelector).First().Text())
	r.Neighborhood = adapters.ExtractNeighborhood(r.Address)

	card.Find(detailsSelector).First().Find(detailSelector).Each(func(_ int, s *goquery.Selection) {
		text := strings.ToLower(adapters.CleanText(s.Text()))
		n, ok := adapters.ExtractNumber(text)
		if !ok {
			return
		}
		switch {
		case strings.Contains(text, "quarto"):
			r.Bedrooms = n
		case strings.Contains(text, "banheiro"):
			r.Bathrooms = n
		case strings.Contains(text, "m²"), strings.Contains(text, "m2"):
			r.Size = n
		}
	})

	link := card.Find(linkSelector).First()
	if link.Length() == 0 {
		link = card.Find("a[href]").First()
	}
	if href, ok := link.Attr("href"); ok && href != "" {
		r.URL = adapters.AbsoluteURL(p.baseURL, href)
		r.ID = adapters.ListingID(Name, href)
	} else {
		r.ID = adapters.HashID(Name, r.Title, priceText)
	}
	return r, nil
}
