package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/audit"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/codec"
	"github.com/JonMunkholm/domainkeeper/internal/config"
	"github.com/JonMunkholm/domainkeeper/internal/keyer"
	"github.com/JonMunkholm/domainkeeper/internal/nlcompile"
	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
	"github.com/JonMunkholm/domainkeeper/internal/store"
	"github.com/JonMunkholm/domainkeeper/internal/store/memstore"
)

var (
	editor   = auth.User{ID: "u-editor", TenantID: "t1", Role: auth.RoleEditor}
	viewer   = auth.User{ID: "u-viewer", TenantID: "t1", Role: auth.RoleViewer}
	outsider = auth.User{ID: "u-other", TenantID: "t2", Role: auth.RoleAdmin}
)

// ============================================================================
// Fixtures
// ============================================================================

type memBlobs map[string][]byte

func (m memBlobs) Download(_ context.Context, p string) ([]byte, error) {
	b, ok := m[p]
	if !ok {
		return nil, apperr.NotFound("file", p)
	}
	return b, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAudit) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type harness struct {
	svc   *Service
	store *memstore.Store
	blobs memBlobs
	audit *recordingAudit
}

func newHarness(t *testing.T, cfg config.IngestConfig) *harness {
	t.Helper()
	h := &harness{
		store: memstore.New(),
		blobs: memBlobs{},
		audit: &recordingAudit{},
	}
	h.svc = NewService(Deps{
		Store: h.store,
		Blobs: h.blobs,
		Audit: h.audit,
	}, cfg, config.CompilerConfig{})
	return h
}

func (h *harness) domain(t *testing.T, name string, businessKey ...string) store.Domain {
	t.Helper()
	d, err := h.svc.CreateDomain(context.Background(), editor, CreateDomainInput{
		Name:        name,
		BusinessKey: businessKey,
	})
	require.NoError(t, err)
	return d
}

func (h *harness) ingestCSV(t *testing.T, d store.Domain, csv string) IngestResult {
	t.Helper()
	res, err := h.svc.IngestData(context.Background(), editor, d.ID, "data.csv", []byte(csv))
	require.NoError(t, err)
	return res
}

// seed writes current rows directly, bypassing the codec's trimming.
func (h *harness) seed(t *testing.T, d store.Domain, rows ...record.Record) {
	t.Helper()
	ctx := context.Background()
	for i, rec := range rows {
		key := keyer.Compute(keyer.New(d.BusinessKey).Effective(rec.Keys()), rec, i)
		require.NoError(t, h.store.InsertCurrentRow(ctx, store.CurrentRow{
			DomainID:  d.ID,
			KeyHash:   key.Hash,
			KeyValues: key.Values,
			Record:    rec,
		}))
	}
}

func (h *harness) rule(t *testing.T, d store.Domain, definition string) store.Rule {
	t.Helper()
	def, err := rules.Parse([]byte(definition))
	require.NoError(t, err)
	r, err := h.svc.CreateRule(context.Background(), editor, d.ID, CreateRuleInput{Name: "rule", Definition: def})
	require.NoError(t, err)
	return r
}

func (h *harness) currentRows(t *testing.T, d store.Domain) []store.CurrentRow {
	t.Helper()
	rows, err := h.store.ListCurrentRows(context.Background(), d.ID, store.Page{})
	require.NoError(t, err)
	return rows
}

func (h *harness) history(t *testing.T, d store.Domain, versionID uuid.UUID) []store.HistoryRow {
	t.Helper()
	rows, err := h.store.ListHistoryRows(context.Background(), d.ID, versionID, store.Page{})
	require.NoError(t, err)
	return rows
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func str(s string) record.String { return record.String(s) }

// ============================================================================
// Ingest
// ============================================================================

func TestIngest_DuplicateKeyIsExtended(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "customers", "email")
	ctx := context.Background()

	res := h.ingestCSV(t, d, "email,n\na@x,1\na@x,2\n")

	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Extended)
	assert.Equal(t, 2, res.Version.RowCount)
	assert.Equal(t, []string{"email", "n"}, res.Version.Columns)
	require.Len(t, h.currentRows(t, d), 2)

	base, err := h.store.FindCurrentRow(ctx, d.ID, sha("a@x"))
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, record.Record{"email": str("a@x")}, base.KeyValues)
	assert.Equal(t, str("1"), base.Record["n"])

	extended, err := h.store.FindCurrentRow(ctx, d.ID, sha("a@x|1"))
	require.NoError(t, err)
	require.NotNil(t, extended)
	assert.Equal(t, record.Record{"email": str("a@x"), keyer.RowIndexColumn: record.Int(1)}, extended.KeyValues)
	assert.Equal(t, str("2"), extended.Record["n"])

	hist := h.history(t, d, res.Version.ID)
	require.Len(t, hist, 2)
	for _, row := range hist {
		assert.Equal(t, res.Version.ID, row.SourceVersionID)
	}

	got, err := h.store.GetDomain(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentVersionID)
	assert.Equal(t, res.Version.ID, *got.CurrentVersionID)
	assert.Equal(t, []audit.Action{audit.ActionDomainCreate, audit.ActionIngest}, h.audit.actions())
}

func TestIngest_NoRowIsLost(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "contacts", "email", "region")

	data := "email,region,name\n" +
		"a@x,eu,Ann\n" +
		"a@x,eu,Ann\n" +
		",,Blank\n" +
		",,Blank\n" +
		"b@x,us,Bob\n" +
		"a@x,eu,Ann B\n"
	table, err := codec.Decode([]byte(data), "data.csv")
	require.NoError(t, err)

	res := h.ingestCSV(t, d, data)
	assert.Equal(t, len(table.Rows), res.Rows)
	assert.Equal(t, 3, res.Extended)

	current := h.currentRows(t, d)
	require.Len(t, current, len(table.Rows))

	for i, want := range table.Rows {
		found := false
		for _, row := range current {
			if record.EqualStrings(want, row.Record) {
				found = true
				break
			}
		}
		assert.True(t, found, "row %d has no current record", i)
	}

	base := 0
	for _, row := range current {
		if _, ok := row.KeyValues[keyer.RowIndexColumn]; !ok {
			base++
		}
	}
	assert.Equal(t, 3, base, "one base key per distinct business key")
}

func TestIngest_ReingestNeverShrinks(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "customers", "email")
	data := "email,n\na@x,1\nb@x,2\n"

	first := h.ingestCSV(t, d, data)
	assert.Equal(t, 2, first.Rows)
	assert.Len(t, h.currentRows(t, d), 2)

	second := h.ingestCSV(t, d, data)
	assert.Equal(t, 2, second.Rows)
	assert.Equal(t, 2, second.Extended)
	assert.Len(t, h.currentRows(t, d), 4)

	third := h.ingestCSV(t, d, data)
	assert.Equal(t, 0, third.Rows)
	assert.Equal(t, 2, third.Preserved)
	assert.Len(t, h.currentRows(t, d), 4)
	assert.Empty(t, h.history(t, d, third.Version.ID))

	versions, err := h.svc.ListVersions(context.Background(), editor, d.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, third.Version.ID, versions[0].ID, "newest first")
}

func TestIngest_MissingKeyColumnsUseRowIndex(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "notes", "id")

	res := h.ingestCSV(t, d, "name\nx\ny\n")
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 0, res.Extended)
	assert.Equal(t, []string{keyer.RowIndexColumn}, res.Version.ImportSummary["key_columns"])

	row, err := h.store.FindCurrentRow(context.Background(), d.ID, sha("0"))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, record.Record{keyer.RowIndexColumn: record.Int(0)}, row.KeyValues)
}

func TestIngest_EmptyAndHeaderOnly(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty file", ""},
		{"header only", "email,name\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.IngestConfig{})
			d := h.domain(t, "empty", "email")

			res := h.ingestCSV(t, d, tt.data)
			assert.Equal(t, 0, res.Rows)
			assert.Equal(t, 0, res.Version.RowCount)
			assert.Empty(t, h.currentRows(t, d))
		})
	}
}

func TestIngest_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.IngestConfig{MaxRowsPerRun: 2})
	d := h.domain(t, "capped", "id")

	_, err := h.svc.IngestData(ctx, editor, d.ID, "data.csv", []byte("id\n1\n2\n3\n"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.ErrorContains(t, err, "the limit per run is 2")
	assert.Empty(t, h.currentRows(t, d), "oversized files are rejected, not truncated")

	_, err = h.svc.IngestData(ctx, editor, d.ID, "data.pdf", []byte("id\n1\n"))
	var decodeErr *codec.DecodeError
	assert.ErrorAs(t, err, &decodeErr)

	_, err = h.svc.Ingest(ctx, editor, d.ID, "  ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = h.svc.Ingest(ctx, editor, d.ID, "missing.csv")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.svc.IngestData(ctx, viewer, d.ID, "data.csv", []byte("id\n1\n"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	versions, err := h.svc.ListVersions(ctx, editor, d.ID)
	require.NoError(t, err)
	assert.Empty(t, versions, "rejected ingests write no version")
}

func TestIngest_FromBlob(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "blobbed", "id")
	h.blobs["uploads/people.tsv"] = []byte("id\tname\n1\tAna\n")

	res, err := h.svc.Ingest(context.Background(), editor, d.ID, "uploads/people.tsv")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, "uploads/people.tsv", res.Version.FilePath)
	assert.Equal(t, "people.tsv", res.Version.ImportSummary["file_name"])
	assert.Equal(t, ".tsv", res.Version.ImportSummary["extension"])
	assert.EqualValues(t, len("id\tname\n1\tAna\n"), res.Version.ImportSummary["bytes_read"])
}

// ============================================================================
// Clean
// ============================================================================

func TestClean_TrimChangesOnce(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	h.seed(t, d, record.Record{"id": str("1"), "name": str(" Ana ")})
	h.rule(t, d, `{"transforms":[{"name":"trim","columns":["name"]}]}`)

	first, err := h.svc.Clean(context.Background(), editor, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Changed)
	assert.Equal(t, "clean", first.Version.Action())

	rows := h.currentRows(t, d)
	require.Len(t, rows, 1)
	assert.Equal(t, str("Ana"), rows[0].Record["name"])

	hist := h.history(t, d, first.Version.ID)
	require.Len(t, hist, 1)
	assert.Equal(t, str(" Ana "), hist[0].Record["name"], "history holds the pre-image")

	second, err := h.svc.Clean(context.Background(), editor, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Changed)
	assert.Empty(t, h.history(t, d, second.Version.ID))
}

func TestClean_DropsRowsMissingRequiredColumns(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "leads", "id")
	h.ingestCSV(t, d, "id,email\n1,a@x\n2,\n3,c@x\n")
	h.rule(t, d, `{"checks":[{"name":"require_columns","columns":["email"],"action":"drop"}]}`)

	res, err := h.svc.Clean(context.Background(), editor, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Metrics.DroppedRows)
	assert.Equal(t, 0, res.Changed)

	rows := h.currentRows(t, d)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.NotEqual(t, str("2"), row.Record["id"])
	}

	hist := h.history(t, d, res.Version.ID)
	require.Len(t, hist, 1)
	assert.Equal(t, str("2"), hist[0].Record["id"])

	diff, err := h.svc.Diff(context.Background(), editor, d.ID, res.Version.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, diff, 1)
	assert.Nil(t, diff[0].After, "deleted rows have no after image")
	assert.ElementsMatch(t, []string{"email", "id"}, diff[0].ChangedFields)
}

func TestClean_DiffShowsChangedFields(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	h.seed(t, d, record.Record{"id": str("1"), "name": str("ana")})
	h.rule(t, d, `{"transforms":[{"name":"titlecase","columns":["name"]}]}`)

	res, err := h.svc.Clean(context.Background(), editor, d.ID)
	require.NoError(t, err)

	diff, err := h.svc.Diff(context.Background(), editor, d.ID, res.Version.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, diff, 1)
	assert.Equal(t, str("ana"), diff[0].Before["name"])
	assert.Equal(t, str("Ana"), diff[0].After["name"])
	assert.Equal(t, []string{"name"}, diff[0].ChangedFields)
	assert.Equal(t, record.Record{"id": str("1")}, diff[0].KeyValues)
}

func TestClean_VersionCarriesAddedColumnsAndFinalCount(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "budgets", "id")
	h.ingestCSV(t, d, "id,Year\n1,FY24/25\n2,FY25/26\n3,\n")
	h.rule(t, d, `{"transforms":[{"name":"split","column":"Year","pattern":"^FY(\\d{2})/(\\d{2})$","targets":["FYStart","FYEnd"]}]}`)
	h.rule(t, d, `{"checks":[{"name":"require_columns","columns":["Year"],"action":"drop"}]}`)

	res, err := h.svc.Clean(context.Background(), editor, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version.RowCount)

	v, err := h.store.GetVersion(context.Background(), d.ID, res.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v.RowCount)
	assert.Equal(t, []string{"id", "Year", "FYEnd", "FYStart"}, v.Columns)

	rows := h.currentRows(t, d)
	require.Len(t, rows, 2)
	for _, row := range rows {
		for _, col := range row.Record.Keys() {
			assert.Contains(t, v.Columns, col)
		}
	}
}

func TestClean_InvalidRuleFailsBeforeWrites(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	h.seed(t, d, record.Record{"id": str("1"), "name": str(" Ana ")})

	// Stored directly: CreateRule would refuse it.
	_, err := h.store.CreateRule(context.Background(), store.Rule{
		DomainID: d.ID,
		Name:     "broken",
		Status:   store.RuleEnabled,
		Definition: rules.Definition{
			Checks: rules.Checks{rules.Regex{Column: "name", Pattern: "("}},
		},
	})
	require.NoError(t, err)

	_, err = h.svc.Clean(context.Background(), editor, d.ID)
	require.Error(t, err)
	assert.True(t, rules.IsValidationError(err))

	versions, err := h.store.ListVersions(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
	assert.Equal(t, str(" Ana "), h.currentRows(t, d)[0].Record["name"])
}

func TestClean_DisabledRulesAreInert(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	h.seed(t, d, record.Record{"id": str("1"), "name": str("ana"), "email": str("")})
	r := h.rule(t, d, `{"transforms":[{"name":"uppercase","columns":["name"]}],"checks":[{"name":"require_columns","columns":["email"],"action":"flag"}]}`)

	disabled := store.RuleDisabled
	_, err := h.svc.UpdateRule(context.Background(), editor, d.ID, r.ID, UpdateRuleInput{Status: &disabled})
	require.NoError(t, err)

	res, err := h.svc.Clean(context.Background(), editor, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Changed)
	assert.Equal(t, 0, res.Metrics.FlaggedRows)
	assert.Equal(t, 0, res.Metrics.RuleCount)
	assert.Equal(t, str("ana"), h.currentRows(t, d)[0].Record["name"])
}

func TestClean_RecordsRun(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	ingest := h.ingestCSV(t, d, "id,name\n1,ana\n2,bo\n")
	h.rule(t, d, `{"transforms":[{"name":"uppercase","columns":["name"]}]}`)

	res, err := h.svc.Clean(context.Background(), editor, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Changed)

	runs, err := h.svc.ListRuns(context.Background(), editor, d.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, res.Version.ID, run.OutputVersionID)
	require.NotNil(t, run.InputVersionID)
	assert.Equal(t, ingest.Version.ID, *run.InputVersionID)
	assert.EqualValues(t, 2, run.Metrics["changed_rows"])
	assert.Equal(t, []string{"id", "name"}, res.Version.Columns, "clean keeps the input columns")
}

func TestClean_DedupKeepsFirst(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	h.ingestCSV(t, d, "id,email\n1,a@x\n2,a@x\n3,b@x\n")
	h.rule(t, d, `{"meta":{"dedup":{"keys":["email"],"keep":"first"}}}`)

	res, err := h.svc.Clean(context.Background(), editor, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Metrics.DedupedRows)

	rows := h.currentRows(t, d)
	require.Len(t, rows, 2)
	assert.Equal(t, str("1"), rows[0].Record["id"])
	assert.Equal(t, str("3"), rows[1].Record["id"])
}

func TestClean_SerializesSameDomain(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	h.ingestCSV(t, d, "id,name\n1, ana\n")
	h.rule(t, d, `{"transforms":[{"name":"uppercase","columns":["name"]}]}`)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed []int
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.Clean(context.Background(), editor, d.ID)
			if err != nil {
				t.Errorf("Clean failed: %v", err)
				return
			}
			mu.Lock()
			changed = append(changed, res.Changed)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{1, 0, 0, 0}, changed, "only the first run changes the row")
}

// ============================================================================
// Queries
// ============================================================================

func TestPreviews(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	ctx := context.Background()

	latest, err := h.svc.LatestPreview(ctx, editor, d.ID, store.Page{})
	require.NoError(t, err)
	assert.Empty(t, latest, "no versions yet")

	res := h.ingestCSV(t, d, "id,name\n1,a\n2,b\n3,c\n")

	page, err := h.svc.Preview(ctx, viewer, d.ID, store.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, str("2"), page[0]["id"])

	latest, err = h.svc.LatestPreview(ctx, viewer, d.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, str(res.Version.ID.String()), latest[0][SourceVersionField])

	_, err = h.svc.Diff(ctx, editor, d.ID, uuid.New(), store.Page{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestNormalizePage(t *testing.T) {
	assert.Equal(t, store.Page{Limit: DefaultPageSize}, normalizePage(store.Page{}))
	assert.Equal(t, store.Page{Limit: MaxPageSize, Offset: 5}, normalizePage(store.Page{Limit: 1e6, Offset: 5}))
	assert.Equal(t, store.Page{Limit: 10}, normalizePage(store.Page{Limit: 10, Offset: -3}))
}

// ============================================================================
// Domains, rules and access
// ============================================================================

func TestDomainLifecycle(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	ctx := context.Background()

	d := h.domain(t, " customers ", " email ", "region")
	assert.Equal(t, "customers", d.Name)
	assert.Equal(t, []string{"email", "region"}, d.BusinessKey)

	_, err := h.svc.CreateDomain(ctx, editor, CreateDomainInput{Name: "customers"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = h.svc.CreateDomain(ctx, editor, CreateDomainInput{Name: "x", BusinessKey: []string{"a", "a"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = h.svc.CreateDomain(ctx, editor, CreateDomainInput{Name: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	desc := "people we sell to"
	updated, err := h.svc.UpdateDomain(ctx, editor, d.ID, UpdateDomainInput{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, "customers", updated.Name)

	list, err := h.svc.ListDomains(ctx, viewer)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = h.svc.ListDomains(ctx, outsider)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, h.svc.DeleteDomain(ctx, editor, d.ID))
	_, err = h.svc.GetDomain(ctx, editor, d.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Contains(t, h.audit.actions(), audit.ActionDomainDelete)
}

func TestRuleLifecycle(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	ctx := context.Background()

	bad, err := rules.Parse([]byte(`{"checks":[{"name":"regex","column":"x","pattern":"("}]}`))
	if err == nil {
		_, err = h.svc.CreateRule(ctx, editor, d.ID, CreateRuleInput{Name: "bad", Definition: bad})
	}
	assert.True(t, rules.IsValidationError(err))

	r := h.rule(t, d, `{"transforms":[{"name":"trim"}]}`)
	assert.Equal(t, store.RuleEnabled, r.Status)
	assert.Equal(t, editor.ID, r.CreatedBy)

	name := "Trim everything"
	bogus := store.RuleStatus("paused")
	_, err = h.svc.UpdateRule(ctx, editor, d.ID, r.ID, UpdateRuleInput{Status: &bogus})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	updated, err := h.svc.UpdateRule(ctx, editor, d.ID, r.ID, UpdateRuleInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	_, err = h.svc.UpdateRule(ctx, editor, d.ID, uuid.New(), UpdateRuleInput{Name: &name})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, err := h.svc.ListRules(ctx, viewer, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, name, list[0].Name)
}

func TestTenantAndRoleChecks(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	ctx := context.Background()

	checks := []struct {
		name string
		call func() error
		want error
	}{
		{"outsider get", func() error { _, err := h.svc.GetDomain(ctx, outsider, d.ID); return err }, apperr.ErrForbidden},
		{"outsider preview", func() error { _, err := h.svc.Preview(ctx, outsider, d.ID, store.Page{}); return err }, apperr.ErrForbidden},
		{"outsider clean", func() error { _, err := h.svc.Clean(ctx, outsider, d.ID); return err }, apperr.ErrForbidden},
		{"outsider rules", func() error { _, err := h.svc.ListRules(ctx, outsider, d.ID); return err }, apperr.ErrForbidden},
		{"viewer create", func() error {
			_, err := h.svc.CreateDomain(ctx, viewer, CreateDomainInput{Name: "x"})
			return err
		}, apperr.ErrForbidden},
		{"viewer clean", func() error { _, err := h.svc.Clean(ctx, viewer, d.ID); return err }, apperr.ErrForbidden},
		{"viewer delete", func() error { return h.svc.DeleteDomain(ctx, viewer, d.ID) }, apperr.ErrForbidden},
		{"missing domain", func() error { _, err := h.svc.GetDomain(ctx, editor, uuid.New()); return err }, apperr.ErrNotFound},
	}

	for _, tt := range checks {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.want)
		})
	}
}

// ============================================================================
// Compile and rule preview
// ============================================================================

func TestCompileRule(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	d := h.domain(t, "people", "id")
	h.ingestCSV(t, d, "id,Year\n1,FY24/25\n")
	ctx := context.Background()

	desc, err := h.svc.CompileRule(ctx, editor, d.ID, "Split Year into FYStart/FYEnd")
	require.NoError(t, err)
	require.Len(t, desc.Definition.Transforms, 1)
	assert.Equal(t, rules.Split{
		Column:  "Year",
		Pattern: `^FY(\d{2})/(\d{2})$`,
		Targets: []string{"FYStart", "FYEnd"},
	}, desc.Definition.Transforms[0])

	preview, err := h.svc.PreviewRule(ctx, editor, d.ID, desc.Definition)
	require.NoError(t, err)
	require.Len(t, preview.Rows, 1)
	assert.Equal(t, str("24"), preview.Rows[0]["FYStart"])
	assert.Equal(t, str("25"), preview.Rows[0]["FYEnd"])
	assert.Equal(t, []string{"id", "Year", "FYEnd", "FYStart"}, preview.Columns)

	fallback, err := h.svc.CompileRule(ctx, editor, d.ID, "when order_total negative mark refund")
	require.NoError(t, err)
	assert.Equal(t, nlcompile.NoteUnparsed, fallback.Definition.Meta.Note)

	_, err = h.svc.CompileRule(ctx, outsider, d.ID, "trim whitespace")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
