package geoindex

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// DefaultWideLimit caps candidate expansion for state and national scopes to
// the densest postal codes, keeping relevance research affordable.
const DefaultWideLimit = 40

// DemographicsSource is the slice of the store the index reads.
type DemographicsSource interface {
	GetDemographics(ctx context.Context, postalCode string) (*model.Demographics, error)
	QueryDemographics(ctx context.Context, q store.GeoQuery) ([]model.Demographics, error)
}

// Index expands a parsed scope into candidate postal codes with demographics.
type Index struct {
	source    DemographicsSource
	wideLimit int
}

// New creates an Index. wideLimit <= 0 selects DefaultWideLimit.
func New(source DemographicsSource, wideLimit int) *Index {
	if wideLimit <= 0 {
		wideLimit = DefaultWideLimit
	}
	return &Index{source: source, wideLimit: wideLimit}
}

// Expand returns the candidate postal codes for a scope, ordered densest
// first. Wide scopes (states, national) are narrowed to the top wideLimit
// codes by density; city and postal scopes return everything they match.
//
// A scope that matches nothing returns an empty slice, not an error, so
// callers can distinguish "nothing there" from lookup failures.
func (idx *Index) Expand(ctx context.Context, scope Scope) ([]model.Demographics, error) {
	switch scope.Kind {
	case ScopePostal:
		d, err := idx.source.GetDemographics(ctx, scope.PostalCode)
		if err != nil {
			return nil, eris.Wrapf(err, "geoindex: lookup %s", scope.PostalCode)
		}
		if d == nil {
			return nil, nil
		}
		return []model.Demographics{*d}, nil

	case ScopeCity:
		rows, err := idx.source.QueryDemographics(ctx, store.GeoQuery{City: scope.City, State: scope.State})
		if err != nil {
			return nil, eris.Wrapf(err, "geoindex: expand city %s", scope.City)
		}
		return rows, nil

	case ScopeStates:
		rows, err := idx.source.QueryDemographics(ctx, store.GeoQuery{States: scope.States, Limit: idx.wideLimit})
		if err != nil {
			return nil, eris.Wrap(err, "geoindex: expand states")
		}
		return rows, nil

	case ScopeNational:
		rows, err := idx.source.QueryDemographics(ctx, store.GeoQuery{Limit: idx.wideLimit})
		if err != nil {
			return nil, eris.Wrap(err, "geoindex: expand national")
		}
		if len(rows) == 0 {
			zap.L().Warn("demographics index is empty, run the geo load command first",
				zap.String("component", "geoindex"))
		}
		return rows, nil
	}

	return nil, eris.Errorf("geoindex: unknown scope kind %q", scope.Kind)
}
