package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/nlcompile"
	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

// CompileRule turns an English command into a rule descriptor for the domain.
// The domain's latest columns are given to the model as context. Nothing is
// stored; the caller saves the descriptor with CreateRule.
func (s *Service) CompileRule(ctx context.Context, user auth.User, domainID uuid.UUID, command string) (nlcompile.Descriptor, error) {
	if _, err := s.domainFor(ctx, user, domainID); err != nil {
		return nlcompile.Descriptor{}, err
	}
	columns, err := s.latestColumns(ctx, domainID)
	if err != nil {
		return nlcompile.Descriptor{}, err
	}
	return s.compiler.Compile(ctx, command, columns)
}

// PreviewRule applies def to a sample of the domain's current rows without
// writing anything.
func (s *Service) PreviewRule(ctx context.Context, user auth.User, domainID uuid.UUID, def rules.Definition) (nlcompile.PreviewResult, error) {
	if _, err := s.domainFor(ctx, user, domainID); err != nil {
		return nlcompile.PreviewResult{}, err
	}

	sampleSize := s.compilerCfg.SampleSize
	if sampleSize <= 0 {
		sampleSize = nlcompile.DefaultSampleSize
	}
	rows, err := s.store.ListCurrentRows(ctx, domainID, store.Page{Limit: sampleSize})
	if err != nil {
		return nlcompile.PreviewResult{}, fmt.Errorf("list rows: %w", err)
	}
	sample := make([]record.Record, len(rows))
	for i, row := range rows {
		sample[i] = row.Record
	}

	columns, err := s.latestColumns(ctx, domainID)
	if err != nil {
		return nlcompile.PreviewResult{}, err
	}
	return nlcompile.Preview(def, sample, columns, sampleSize, s.compilerCfg.PreviewRows)
}

// latestColumns returns the latest version's columns, or nil before the
// first ingest.
func (s *Service) latestColumns(ctx context.Context, domainID uuid.UUID) ([]string, error) {
	v, err := s.store.LatestVersion(ctx, domainID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	return v.Columns, nil
}
