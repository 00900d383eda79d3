// Package zap implements the ZAP Imóveis search page adapter.
package zap

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
	// Name identifies records and stats of the full adapter.
	Name = "zap"
	// FastName identifies the latency-bounded variant.
	FastName = "zap_fast"
	// DefaultBaseURL is the production site.
	DefaultBaseURL = "https://www.zapimoveis.com.br"

	fastMaxCards = 10
	fastTimeout  = 2500 * time.Millisecond
)

var (
	propertyTypes = map[string]bool{"apartamento": true, "casa": true, "cobertura": true, "loft": true}
	paginaRe      = regexp.MustCompile(`pagina=(\d+)`)
	bedroomsRe    = regexp.MustCompile(`(?i)\d+\s*quarto`)
	bathroomsRe   = regexp.MustCompile(`(?i)\d+\s*banheiro`)
	areaRe        = regexp.MustCompile(`(?i)\d+\s*m(²|2)`)
)

const (
	cardSelector       = "div.property-card, article.property-card, div.card, article.card, div.listing, article.listing"
	cardAltSelector    = `div[data-testid="property-card"]`
	titleSelector      = "h2.property-title, h3.property-title, h2.card-title, h3.card-title, h2.listing-title, h3.listing-title"
	priceSelector      = ".property-price, .card-price, .listing-price"
	addressSelector    = ".property-address, .card-address, .listing-address"
	detailsSelector    = ".property-details, .card-details, .listing-details"
	linkSelector       = "a.property-link, a.card-link, a.listing-link"
	paginationSelector = "div.pagination, div.paginator, div.pages, nav[aria-label=pagination], ul.pagination"
)

// Parser builds ZAP search URLs and extracts listing cards.
type Parser struct {
	baseURL  string
	maxCards int // 0 means unlimited
	fast     bool
	logger   *slog.Logger
}

var _ adapters.Parser = (*Parser)(nil)

// NewParser creates a parser for the site at baseURL.
func NewParser(baseURL string, logger *slog.Logger) *Parser {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Options configures the ZAP sources.
type Options struct {
	BaseURL       string
	Logger        *slog.Logger
	Validator     adapters.RecordValidator
	ClientOptions []resilience.ClientOption
}

// New creates the full ZAP source.
func New(opts Options) *adapters.Site {
	clientOpts := append([]resilience.ClientOption{
		resilience.WithDelayRange(2*time.Second, 4*time.Second),
		resilience.WithMaxRetries(3),
		resilience.WithLogger(opts.Logger),
	}, opts.ClientOptions...)

	return adapters.NewSite(Name,
		resilience.NewClient(Name, clientOpts...),
		NewParser(opts.BaseURL, opts.Logger),
		adapters.SiteOptions{Validator: opts.Validator, Logger: opts.Logger})
}

// NewFast creates a single-attempt, single-page ZAP source reading at most
// ten cards.
func NewFast(opts Options) *adapters.Site {
	clientOpts := append([]resilience.ClientOption{
		resilience.WithDelayRange(0, 0),
		resilience.WithMaxRetries(1),
		resilience.WithTimeout(fastTimeout),
		resilience.WithLogger(opts.Logger),
	}, opts.ClientOptions...)

	p := NewParser(opts.BaseURL, opts.Logger)
	p.maxCards = fastMaxCards
	p.fast = true

	return adapters.NewSite(FastName,
		resilience.NewClient(FastName, clientOpts...),
		p,
		adapters.SiteOptions{Fast: true, Validator: opts.Validator, Logger: opts.Logger})
}

// BuildQuery returns /<transaction>/<uf>+<city-slug>/[type/]?filters.
func (p *Parser) BuildQuery(q domain.Query) (string, error) {
	if strings.TrimSpace(q.City) == "" || strings.TrimSpace(q.State) == "" {
		return "", domain.ErrInvalidQuery
	}
	transaction := strings.ToLower(q.TransactionType)
	if transaction == "" {
		transaction = domain.DefaultTransactionType
	}

	path := fmt.Sprintf("/%s/%s+%s/", transaction, strings.ToLower(strings.TrimSpace(q.State)), adapters.CitySlug(q.City))
	if pt := strings.ToLower(q.PropertyType); propertyTypes[pt] {
		path += pt + "/"
	}

	var params []string
	if q.PriceMin > 0 {
		params = append(params, "preco-minimo="+formatAmount(q.PriceMin))
	}
	if q.PriceMax > 0 {
		params = append(params, "preco-maximo="+formatAmount(q.PriceMax))
	}
	if !p.fast {
		if q.Bedrooms > 0 {
			params = append(params, "quartos="+strconv.Itoa(q.Bedrooms))
		}
		if q.Bathrooms > 0 {
			params = append(params, "banheiros="+strconv.Itoa(q.Bathrooms))
		}
		if q.SizeMin > 0 {
			params = append(params, "area-minima="+strconv.Itoa(q.SizeMin))
		}
		if q.SizeMax > 0 {
			params = append(params, "area-maxima="+strconv.Itoa(q.SizeMax))
		}
		if q.Page > 1 {
			params = append(params, "pagina="+strconv.Itoa(q.Page))
		}
	}

	u := p.baseURL + path
	if len(params) > 0 {
		u += "?" + strings.Join(params, "&")
	}
	return u, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TotalPages reads the highest page number linked from the pagination block.
func (p *Parser) TotalPages(page []byte) int {
	if p.fast {
		return 1
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return 1
	}

	pagination := doc.Find(paginationSelector).First()
	if pagination.Length() == 0 {
		return 1
	}

	total := 1
	pagination.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if m := paginaRe.FindStringSubmatch(href); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > total {
				total = n
			}
			return
		}
		if n, err := strconv.Atoi(strings.TrimSpace(a.Text())); err == nil && n > total {
			total = n
		}
	})
	pagination.Find("span.current, span.active").Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > total {
			total = n
		}
	})
	return total
}

// Extract parses listing cards. Cards without a title or a parseable price
// are skipped.
func (p *Parser) Extract(page []byte, q domain.Query) ([]domain.PropertyRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	cards := doc.Find(cardSelector)
	if cards.Length() == 0 {
		cards = doc.Find(cardAltSelector)
	}
	if p.maxCards > 0 && cards.Length() > p.maxCards {
		cards = cards.Slice(0, p.maxCards)
	}

	records := make([]domain.PropertyRecord, 0, cards.Length())
	skipped := 0
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
	r := domain.PropertyRecord{Source: Name, City: q.City}
	if p.fast {
		r.Source = FastName
	}

	title := card.Find(titleSelector).First()
	if title.Length() == 0 {
		title = card.Find("h2, h3, h4").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return adapters.CleanText(s.Text()) != ""
		}).First()
	}
	r.Title = adapters.CleanText(title.Text())
	if r.Title == "" {
		return r, fmt.Errorf("missing title")
	}

	priceText := adapters.CleanText(card.Find(priceSelector).First().Text())
	if priceText == "" {
		card.Find("div, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if s.Children().Length() == 0 && strings.Contains(s.Text(), "R$") {
				priceText = adapters.CleanText(s.Text())
				return false
			}
			return true
		})
	}
	price, ok := adapters.ParsePrice(priceText)
	if !ok {
		return r, fmt.Errorf("unparseable price %q", priceText)
	}
	r.Price = price

	r.Address = adapters.CleanText(card.Find(addressSelector).First().Text())
	r.Neighborhood = adapters.ExtractNeighborhood(r.Address)

	card.Find(detailsSelector).First().Find("span, li").Each(func(_ int, s *goquery.Selection) {
		text := adapters.CleanText(s.Text())
		n, ok := adapters.ExtractNumber(text)
		if !ok {
			return
		}
		switch {
		case bedroomsRe.MatchString(text):
			r.Bedrooms = n
		case bathroomsRe.MatchString(text):
			r.Bathrooms = n
		case areaRe.MatchString(text):
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
		r.ID = adapters.HashID(Name, r.Title, formatAmount(r.Price))
	}

	if q.PropertyType != "" {
		r.PropertyType = q.PropertyType
	}
	return r, nil
}
