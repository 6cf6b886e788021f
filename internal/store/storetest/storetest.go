// Package storetest is a behavioural suite shared by store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises the store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("Domains", func(t *testing.T) { testDomains(t, newStore(t)) })
	t.Run("Versions", func(t *testing.T) { testVersions(t, newStore(t)) })
	t.Run("CurrentRows", func(t *testing.T) { testCurrentRows(t, newStore(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("Rules", func(t *testing.T) { testRules(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("DeleteDomain", func(t *testing.T) { testDeleteDomain(t, newStore(t)) })
}

func seedDomain(t *testing.T, s store.Store, tenant, name string) store.Domain {
	t.Helper()
	d, err := s.CreateDomain(context.Background(), store.Domain{
		TenantID:    tenant,
		Name:        name,
		BusinessKey: []string{"email"},
	})
	require.NoError(t, err)
	return d
}

func testDomains(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := seedDomain(t, s, "t1", "customers")
	b := seedDomain(t, s, "t1", "orders")
	seedDomain(t, s, "t2", "customers")

	_, err := s.CreateDomain(ctx, store.Domain{TenantID: "t1", Name: "customers"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	list, err := s.ListDomains(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID, "newest first")
	assert.Equal(t, a.ID, list[1].ID)

	got, err := s.GetDomain(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, got.BusinessKey)
	assert.Nil(t, got.CurrentVersionID)

	got.Description = "people"
	got.BusinessKey = []string{"email", "region"}
	updated, err := s.UpdateDomain(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "people", updated.Description)
	assert.Equal(t, "t1", updated.TenantID)

	got.Name = "orders"
	_, err = s.UpdateDomain(ctx, got)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = s.GetDomain(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testVersions(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDomain(t, s, "t1", "customers")

	_, err := s.LatestVersion(ctx, d.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	v1, err := s.InsertVersion(ctx, store.Version{
		DomainID:      d.ID,
		FilePath:      "a.csv",
		RowCount:      2,
		Columns:       []string{"email", "n"},
		ImportSummary: map[string]any{"file_name": "a.csv"},
	})
	require.NoError(t, err)
	v2, err := s.InsertVersion(ctx, store.Version{
		DomainID:      d.ID,
		Columns:       []string{"email", "n"},
		ImportSummary: map[string]any{"action": "clean"},
	})
	require.NoError(t, err)

	latest, err := s.LatestVersion(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, latest.ID)
	assert.Equal(t, "clean", latest.Action())

	list, err := s.ListVersions(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, v2.ID, list[0].ID)
	assert.Equal(t, v1.ID, list[1].ID)

	got, err := s.GetVersion(ctx, d.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RowCount)
	assert.Equal(t, "a.csv", got.ImportSummary["file_name"])

	require.NoError(t, s.SetCurrentVersion(ctx, d.ID, v2.ID))
	dom, err := s.GetDomain(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, dom.CurrentVersionID)
	assert.Equal(t, v2.ID, *dom.CurrentVersionID)

	finished, err := s.FinishVersion(ctx, d.ID, v2.ID, 5, []string{"email", "n", "region"})
	require.NoError(t, err)
	assert.Equal(t, 5, finished.RowCount)
	assert.Equal(t, []string{"email", "n", "region"}, finished.Columns)
	got, err = s.GetVersion(ctx, d.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, finished.Columns, got.Columns)
	assert.Equal(t, "clean", got.Action())

	other := seedDomain(t, s, "t1", "other")
	_, err = s.GetVersion(ctx, other.ID, v1.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.FinishVersion(ctx, other.ID, v1.ID, 0, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testCurrentRows(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDomain(t, s, "t1", "customers")

	row := store.CurrentRow{
		DomainID:  d.ID,
		KeyHash:   "h1",
		KeyValues: record.Record{"email": record.String("a@x")},
		Record:    record.Record{"email": record.String("a@x"), "n": record.Int(1)},
	}
	require.NoError(t, s.InsertCurrentRow(ctx, row))
	require.NoError(t, s.InsertCurrentRow(ctx, store.CurrentRow{
		DomainID: d.ID, KeyHash: "h2",
		KeyValues: record.Record{"email": record.String("b@x")},
		Record:    record.Record{"email": record.String("b@x")},
	}))

	err := s.InsertCurrentRow(ctx, row)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	found, err := s.FindCurrentRow(ctx, d.ID, "h1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, record.Int(1), found.Record["n"])
	assert.False(t, found.UpdatedAt.IsZero())

	missing, err := s.FindCurrentRow(ctx, d.ID, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpdateCurrentRow(ctx, d.ID, "h1", record.Record{"n": record.Int(2), "x": record.String("new")}))
	found, err = s.FindCurrentRow(ctx, d.ID, "h1")
	require.NoError(t, err)
	assert.Equal(t, record.Record{
		"email": record.String("a@x"),
		"n":     record.Int(2),
		"x":     record.String("new"),
	}, found.Record)

	err = s.UpdateCurrentRow(ctx, d.ID, "nope", record.Record{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	rows, err := s.ListCurrentRows(ctx, d.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "h1", rows[0].KeyHash, "insertion order")

	page, err := s.ListCurrentRows(ctx, d.ID, store.Page{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "h2", page[0].KeyHash)

	require.NoError(t, s.DeleteCurrentRow(ctx, d.ID, "h2"))
	n, err := s.CountCurrentRows(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDomain(t, s, "t1", "customers")
	v, err := s.InsertVersion(ctx, store.Version{DomainID: d.ID, Columns: []string{"email"}})
	require.NoError(t, err)

	h := store.HistoryRow{
		DomainID:        d.ID,
		KeyHash:         "h1",
		KeyValues:       record.Record{"email": record.String("a@x")},
		Record:          record.Record{"email": record.String(" a@x ")},
		SourceVersionID: v.ID,
	}
	require.NoError(t, s.InsertHistoryRow(ctx, h))

	h.Record = record.Record{"email": record.String("changed")}
	require.NoError(t, s.InsertHistoryRow(ctx, h), "duplicate snapshot is a no-op")

	list, err := s.ListHistoryRows(ctx, d.ID, v.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, record.String(" a@x "), list[0].Record["email"], "first snapshot wins")
	assert.Equal(t, v.ID, list[0].SourceVersionID)
}

func testRules(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDomain(t, s, "t1", "customers")

	def := rules.Definition{Transforms: rules.Transforms{rules.Trim{Columns: rules.Columns{"name"}}}}
	first, err := s.CreateRule(ctx, store.Rule{DomainID: d.ID, Name: "trim", Definition: def, CreatedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, store.RuleEnabled, first.Status)

	second, err := s.CreateRule(ctx, store.Rule{DomainID: d.ID, Name: "upper", Status: store.RuleEnabled,
		Definition: rules.Definition{Transforms: rules.Transforms{rules.Uppercase{}}}})
	require.NoError(t, err)

	first.Status = store.RuleDisabled
	first.Name = "trim names"
	updated, err := s.UpdateRule(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "u1", updated.CreatedBy)

	all, err := s.ListRules(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID, "oldest first")

	enabled, err := s.ListEnabledRules(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, second.ID, enabled[0].ID)

	got, err := s.GetRule(ctx, d.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "trim names", got.Name)
	require.Len(t, got.Definition.Transforms, 1)
	assert.Equal(t, rules.OpTrim, got.Definition.Transforms[0].Op())

	v, err := s.InsertVersion(ctx, store.Version{DomainID: d.ID})
	require.NoError(t, err)
	_, err = s.InsertRuleRun(ctx, store.RuleRun{
		DomainID:        d.ID,
		OutputVersionID: v.ID,
		Status:          store.RunCompleted,
		Metrics:         map[string]any{"changed_rows": 1},
	})
	require.NoError(t, err)
	runs, err := s.ListRuleRuns(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunCompleted, runs[0].Status)
}

var errBoom = errors.New("boom")

func testTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDomain(t, s, "t1", "customers")

	err := s.WithTx(ctx, func(tx store.Store) error {
		require.NoError(t, tx.LockDomain(ctx, d.ID))
		require.NoError(t, tx.InsertCurrentRow(ctx, store.CurrentRow{
			DomainID: d.ID, KeyHash: "h1",
			KeyValues: record.Record{}, Record: record.Record{"a": record.Int(1)},
		}))
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	n, err := s.CountCurrentRows(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	err = s.WithTx(ctx, func(tx store.Store) error {
		return tx.InsertCurrentRow(ctx, store.CurrentRow{
			DomainID: d.ID, KeyHash: "h1",
			KeyValues: record.Record{}, Record: record.Record{"a": record.Int(1)},
		})
	})
	require.NoError(t, err)

	n, err = s.CountCurrentRows(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testDeleteDomain(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDomain(t, s, "t1", "customers")
	v, err := s.InsertVersion(ctx, store.Version{DomainID: d.ID})
	require.NoError(t, err)
	require.NoError(t, s.InsertCurrentRow(ctx, store.CurrentRow{
		DomainID: d.ID, KeyHash: "h1", KeyValues: record.Record{}, Record: record.Record{},
	}))
	require.NoError(t, s.InsertHistoryRow(ctx, store.HistoryRow{
		DomainID: d.ID, KeyHash: "h1", KeyValues: record.Record{}, Record: record.Record{}, SourceVersionID: v.ID,
	}))

	require.NoError(t, s.DeleteDomain(ctx, d.ID))

	_, err = s.GetDomain(ctx, d.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	n, err := s.CountCurrentRows(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, s.DeleteDomain(ctx, d.ID), apperr.ErrNotFound)
}
