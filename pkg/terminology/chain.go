package terminology

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// ChainResolver asks each resolver in turn and returns the first hit. A
// resolver answering ErrNotFound passes to the next; any other error is
// remembered and returned if no later resolver succeeds. Remote answers are
// written back to the catalog, when one is set, so each value set is fetched
// once per process.
type ChainResolver struct {
	catalog   *Catalog
	resolvers []domain.ValueSetResolver
	log       *logrus.Logger
}

// NewChainResolver builds a chain that consults catalog first. catalog may
// be nil.
func NewChainResolver(catalog *Catalog, logger *logrus.Logger, remote ...domain.ValueSetResolver) *ChainResolver {
	return &ChainResolver{catalog: catalog, resolvers: remote, log: logger}
}

// Resolve implements domain.ValueSetResolver.
func (r *ChainResolver) Resolve(ctx context.Context, id string) (*domain.ValueSetRef, error) {
	if r.catalog != nil {
		vs, err := r.catalog.Resolve(ctx, id)
		if err == nil {
			return vs, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	var lastErr error
	for _, resolver := range r.resolvers {
		vs, err := resolver.Resolve(ctx, id)
		if err == nil {
			if r.catalog != nil {
				if addErr := r.catalog.Add(vs, id); addErr != nil {
					r.log.WithError(addErr).Warn("Failed to cache resolved value set")
				}
			}
			return vs, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.log.WithFields(logrus.Fields{
				"value_set": id,
				"error":     err,
			}).Warn("Value set resolver failed")
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("value set %s: %w", id, domain.ErrNotFound)
}

// NewResolver assembles the resolver described by config: a catalog seeded
// from ValueSetDir and, when BaseURL is set, a remote $expand client behind it.
func NewResolver(config domain.TerminologyConfig, logger *logrus.Logger) (*ChainResolver, error) {
	catalog := NewCatalog()
	if config.ValueSetDir != "" {
		stats, err := catalog.LoadDir(config.ValueSetDir)
		if err != nil {
			return nil, fmt.Errorf("loading value sets: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"dir":        config.ValueSetDir,
			"value_sets": stats.ValueSetsLoaded,
			"errors":     stats.Errors,
		}).Info("Value set catalog loaded")
	}

	var remote []domain.ValueSetResolver
	if config.BaseURL != "" {
		remote = append(remote, NewClient(ClientConfig{
			BaseURL:   config.BaseURL,
			APIKey:    config.APIKey,
			Timeout:   config.Timeout,
			RateLimit: config.RateLimit,
		}, logger))
	}
	return NewChainResolver(catalog, logger, remote...), nil
}
