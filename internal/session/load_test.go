package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestLoadCSV(t *testing.T) {
	ctx := context.Background()

	t.Run("HeaderDerivesTable", func(t *testing.T) {
		s := newTestSession(t)
		res := mustLoad(t, s, "a,b\n1,2\n3,4")
		assert.Equal(t, "a", res.Table)
		assert.Equal(t, 2, res.RowsLoaded)
		assert.Equal(t, []string{"a", "b"}, res.Columns)

		rows, err := s.Sample(ctx, "a", 10)
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{
			{"a": "1", "b": "2"},
			{"a": "3", "b": "4"},
		}, rows)
	})

	t.Run("NoHeaderSynthesizesColumns", func(t *testing.T) {
		s := newTestSession(t)
		res, err := s.LoadCSV(ctx, LoadOptions{Content: "a,b\n1,2\n3,4", HasHeader: boolPtr(false)})
		require.NoError(t, err)
		assert.Equal(t, "col_1", res.Table)
		assert.Equal(t, []string{"col_1", "col_2"}, res.Columns)
		assert.Equal(t, 3, res.RowsLoaded)

		rows, err := s.Sample(ctx, "col_1", 1)
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"col_1": "a", "col_2": "b"}}, rows)
	})

	t.Run("ExplicitTableName", func(t *testing.T) {
		s := newTestSession(t)
		res, err := s.LoadCSV(ctx, LoadOptions{Content: "x\n1\n", Table: `my "odd" table`})
		require.NoError(t, err)
		assert.Equal(t, `my "odd" table`, res.Table)

		rows, err := s.Sample(ctx, `my "odd" table`, 0)
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"x": "1"}}, rows)
	})

	t.Run("RaggedRowsArePaddedAndTruncated", func(t *testing.T) {
		s := newTestSession(t)
		mustLoad(t, s, "a,b,c\n1\n1,2,3,4,5\n")
		rows, err := s.Sample(ctx, "a", 10)
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{
			{"a": "1", "b": "", "c": ""},
			{"a": "1", "b": "2", "c": "3"},
		}, rows)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		s := newTestSession(t)
		res := mustLoad(t, s, "")
		assert.Equal(t, "csv", res.Table)
		assert.Equal(t, 0, res.RowsLoaded)
		assert.Equal(t, []string{"col_1"}, res.Columns)

		tables, err := s.ListTables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"csv"}, tables)
	})

	t.Run("SmallBatches", func(t *testing.T) {
		s := newTestSession(t)
		var b strings.Builder
		b.WriteString("n,sq\n")
		for i := 0; i < 25; i++ {
			b.WriteString("1,1\n")
		}
		res, err := s.LoadCSV(ctx, LoadOptions{Content: b.String(), BatchSize: 4})
		require.NoError(t, err)
		assert.Equal(t, 25, res.RowsLoaded)

		out, err := s.Query(ctx, QueryOptions{SQL: "SELECT count(*) AS c FROM n", ReadOnly: true})
		require.NoError(t, err)
		assert.Equal(t, int64(25), out.Rows[0]["c"])
	})

	t.Run("SecondLoadAppends", func(t *testing.T) {
		s := newTestSession(t)
		mustLoad(t, s, "item,val\nx,1\n")
		res := mustLoad(t, s, "item,val\ny,2\nz,3\n")
		assert.Equal(t, "item", res.Table)
		assert.Equal(t, 2, res.RowsLoaded)

		out, err := s.Query(ctx, QueryOptions{SQL: "SELECT count(*) AS c FROM item", ReadOnly: true})
		require.NoError(t, err)
		assert.Equal(t, int64(3), out.Rows[0]["c"])
	})

	t.Run("CellsAreSanitized", func(t *testing.T) {
		s := newTestSession(t)
		mustLoad(t, s, "name,remark\nbad\x00cell,\"caf\u00e9\"\n")
		rows, err := s.Sample(ctx, "name", 1)
		require.NoError(t, err)
		assert.Equal(t, "bad cell", rows[0]["name"])
		assert.Equal(t, "caf\u00e9", rows[0]["remark"])
	})

	t.Run("InvalidUTF8", func(t *testing.T) {
		s := newTestSession(t)
		mustLoad(t, s, "v\nab\xffcd\n")
		rows, err := s.Sample(ctx, "v", 1)
		require.NoError(t, err)
		assert.Equal(t, "ab\uFFFDcd", rows[0]["v"])
	})

	t.Run("DuplicateAndBlankHeaders", func(t *testing.T) {
		s := newTestSession(t)
		res := mustLoad(t, s, "id,ID,,id\nx,y,z,w\n")
		assert.Equal(t, []string{"id", "ID_2", "col_3", "id_3"}, res.Columns)
	})

	t.Run("BlankFirstHeaderNamesTableT", func(t *testing.T) {
		s := newTestSession(t)
		res := mustLoad(t, s, ",b\nx,2\ny,4")
		assert.Equal(t, "t", res.Table)
		assert.Equal(t, []string{"col_1", "b"}, res.Columns)
		assert.Equal(t, 2, res.RowsLoaded)
	})

	t.Run("QuotedNewlineKeepsDialect", func(t *testing.T) {
		s := newTestSession(t)
		res := mustLoad(t, s, "a;b\n\"x\ny\";2\n3;4")
		assert.Equal(t, "a", res.Table)
		assert.Equal(t, []string{"a", "b"}, res.Columns)
		assert.Equal(t, 2, res.RowsLoaded)

		rows, err := s.Sample(ctx, "a", 10)
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{
			{"a": "x\ny", "b": "2"},
			{"a": "3", "b": "4"},
		}, rows)
	})

	t.Run("SemicolonDialect", func(t *testing.T) {
		s := newTestSession(t)
		res := mustLoad(t, s, "city;pop\nParis;2100000\nLyon;520000\n")
		assert.Equal(t, []string{"city", "pop"}, res.Columns)
		assert.Equal(t, 2, res.RowsLoaded)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := newTestSession(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.LoadCSV(cctx, LoadOptions{Content: "a\n1\n"})
		require.Error(t, err)

		tables, err := s.ListTables(ctx)
		require.NoError(t, err)
		assert.Empty(t, tables)
	})
}

func TestNormalizeHeaders(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalizeHeaders([]string{"a", "b"}))
	assert.Equal(t, []string{"col_1", "x"}, normalizeHeaders([]string{"  ", "x"}))
	assert.Equal(t, []string{"x", "x_2", "x_3"}, normalizeHeaders([]string{"x", "x", "x"}))
}

func TestFitRow(t *testing.T) {
	assert.Equal(t, []any{"1", "", ""}, fitRow([]string{"1"}, 3))
	assert.Equal(t, []any{"1", "2"}, fitRow([]string{"1", "2", "3"}, 2))
}
