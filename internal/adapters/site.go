package adapters

import (
	"context"
	"errors"
	"log/slog"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/observability"
	"property-acquisition/internal/resilience"
)

// SiteOptions configures Site.
type SiteOptions struct {
	Fast      bool
	Validator RecordValidator // nil uses BasicValidator
	Logger    *slog.Logger
}

// Site is a Source backed by a resilience.Client and a Parser.
type Site struct {
	name      string
	client    *resilience.Client
	parser    Parser
	fast      bool
	validator RecordValidator
	logger    *slog.Logger
}

var _ Source = (*Site)(nil)

// NewSite composes client and parser into a Source named name.
func NewSite(name string, client *resilience.Client, parser Parser, opts SiteOptions) *Site {
	if opts.Validator == nil {
		opts.Validator = BasicValidator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Site{
		name:      name,
		client:    client,
		parser:    parser,
		fast:      opts.Fast,
		validator: opts.Validator,
		logger:    opts.Logger.With("component", "source", "source", name),
	}
}

func (s *Site) Name() string { return s.name }

func (s *Site) Fast() bool { return s.fast }

func (s *Site) Stats() domain.SourceStats { return s.client.Stats() }

func (s *Site) Close() error { return s.client.Close() }

// Fetch walks min(TotalPages, q.MaxPages) result pages starting at q.Page.
// An error on a later page ends the walk and returns what was collected.
func (s *Site) Fetch(ctx context.Context, q domain.Query) ([]domain.PropertyRecord, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		s.client.AddError()
		return nil, resilience.NewValidationError(err)
	}

	var (
		records []domain.PropertyRecord
		pages   = q.MaxPages
	)

	for i := 0; i < pages; i++ {
		pq := q
		pq.Page = q.Page + i

		page, total, err := s.fetchPage(ctx, pq, i == 0)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			s.logger.Warn("stopping pagination after page error",
				"page", pq.Page, "collected", len(records), "error", err)
			break
		}
		if i == 0 && total < pages {
			pages = total
		}
		records = append(records, page...)
	}

	s.client.AddFound(len(records))
	s.logger.Info("fetched listings", "records", len(records), "pages", pages)
	return records, nil
}

func (s *Site) fetchPage(ctx context.Context, q domain.Query, first bool) ([]domain.PropertyRecord, int, error) {
	u, err := s.parser.BuildQuery(q)
	if err != nil {
		s.client.AddError()
		return nil, 0, resilience.NewValidationError(err)
	}

	resp, err := s.client.Fetch(ctx, u)
	if err != nil {
		return nil, 0, err
	}

	total := 1
	if first {
		total = s.parser.TotalPages(resp.Body)
		if total < 1 {
			total = 1
		}
	}

	extracted, err := s.parser.Extract(resp.Body, q)
	if err != nil {
		s.client.AddError()
		var fe *resilience.Error
		if errors.As(err, &fe) {
			return nil, 0, err
		}
		return nil, 0, resilience.NewParsingError(u, err)
	}

	valid := extracted[:0]
	rejected := 0
	for _, r := range extracted {
		if r.Source == "" {
			r.Source = s.name
		}
		if err := s.validator.Validate(r); err != nil {
			rejected++
			s.logger.Warn("dropping invalid record",
				"id", r.ID, "kind", resilience.KindValidation.String(), "error", err)
			continue
		}
		valid = append(valid, r)
	}
	if rejected > 0 {
		observability.RecordRejected(s.name, rejected)
	}
	return valid, total, nil
}
