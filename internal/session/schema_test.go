package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	mustLoad(t, s, "a,b\n1,2\n3,4")

	cols, err := s.Schema(ctx, "a")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, Column{CID: 0, Name: "a", Type: "TEXT"}, cols[0])
	assert.Equal(t, Column{CID: 1, Name: "b", Type: "TEXT"}, cols[1])

	t.Run("MissingTable", func(t *testing.T) {
		cols, err := s.Schema(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, cols)
	})
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	ds, err := s.Describe(ctx)
	require.NoError(t, err)
	assert.Empty(t, ds.Tables)
	assert.Empty(t, ds.Schemas)

	mustLoad(t, s, "zeta\nx\n")
	mustLoad(t, s, "alpha,beta\nxx,1\n")

	ds, err = s.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, ds.Tables)
	assert.Len(t, ds.Schemas["alpha"], 2)
	assert.Len(t, ds.Schemas["zeta"], 1)
}

func TestSample(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	mustLoad(t, s, "n\n1\n2\n3\n4\n5\n")

	rows, err := s.Sample(ctx, "n", 2)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"n": "1"}, {"n": "2"}}, rows)

	rows, err = s.Sample(ctx, "n", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	t.Run("MissingTable", func(t *testing.T) {
		_, err := s.Sample(ctx, "nope", 1)
		var ee *EngineError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "sample_rows", ee.Op)
		assert.Contains(t, ee.Msg, "no such table")
	})

	t.Run("EmptyTable", func(t *testing.T) {
		mustLoad(t, s, "")
		rows, err := s.Sample(ctx, "csv", 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}
