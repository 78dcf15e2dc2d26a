package mcprt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/tabula/internal/config"
	"github.com/hazyhaar/tabula/internal/session"
)

type fakeQuerier struct {
	got session.QueryOptions
}

func (f *fakeQuerier) Query(_ context.Context, q session.QueryOptions) (*session.Result, error) {
	f.got = q
	return &session.Result{Columns: []string{"x"}, Rows: []map[string]any{{"x": int64(1)}}, RowCount: 1}, nil
}

func topRows() *SavedQuery {
	return &SavedQuery{
		Name:    "top_rows",
		SQL:     "SELECT * FROM sales WHERE region = ? LIMIT ?",
		Timeout: 5 * time.Second,
		Params: []Param{
			{Name: "region", Type: TypeString},
			{Name: "limit", Type: TypeInteger, Required: true},
		},
	}
}

func TestRegisterRejects(t *testing.T) {
	cases := map[string]*SavedQuery{
		"reserved name": {Name: "run_sql", SQL: "SELECT 1"},
		"bad name":      {Name: "has space", SQL: "SELECT 1"},
		"mutating":      {Name: "wipe", SQL: "DELETE FROM sales"},
		"hidden drop":   {Name: "wipe2", SQL: "/* x */ DROP TABLE sales"},
		"param count":   {Name: "p", SQL: "SELECT ?, ?", Params: []Param{{Name: "a", Type: TypeString}}},
		"param type":    {Name: "p2", SQL: "SELECT ?", Params: []Param{{Name: "a", Type: "blob"}}},
		"dup param": {Name: "p3", SQL: "SELECT ?, ?", Params: []Param{
			{Name: "a", Type: TypeString}, {Name: "a", Type: TypeString},
		}},
	}
	for name, sq := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewRegistry(&fakeQuerier{}, "run_sql")
			assert.Error(t, r.Register(sq))
			assert.Empty(t, r.ListTools())
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(&fakeQuerier{})
	require.NoError(t, r.Register(topRows()))
	require.Error(t, r.Register(topRows()))
	assert.Len(t, r.ListTools(), 1)
}

func TestExecuteToolBindsPositionally(t *testing.T) {
	fq := &fakeQuerier{}
	r := NewRegistry(fq)
	require.NoError(t, r.Register(topRows()))

	res, err := r.ExecuteTool(context.Background(), "top_rows", map[string]any{"limit": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowCount)

	assert.Equal(t, []any{nil, int64(3)}, fq.got.Args)
	assert.True(t, fq.got.ReadOnly)
	assert.Equal(t, 5*time.Second, fq.got.Timeout)
}

func TestExecuteToolErrors(t *testing.T) {
	r := NewRegistry(&fakeQuerier{})
	require.NoError(t, r.Register(topRows()))
	ctx := context.Background()

	_, err := r.ExecuteTool(ctx, "nope", nil)
	require.ErrorIs(t, err, ErrUnknownTool)

	_, err = r.ExecuteTool(ctx, "top_rows", map[string]any{"region": "eu"})
	require.ErrorIs(t, err, ErrMissingParam)

	_, err = r.ExecuteTool(ctx, "top_rows", map[string]any{"limit": 2.5})
	require.ErrorIs(t, err, ErrBadParam)

	_, err = r.ExecuteTool(ctx, "top_rows", map[string]any{"limit": float64(1), "region": 7.0})
	require.ErrorIs(t, err, ErrBadParam)
}

func TestCoerce(t *testing.T) {
	v, err := coerce(Param{Name: "b", Type: TypeBoolean}, true)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = coerce(Param{Name: "n", Type: TypeNumber}, 1.25)
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)

	_, err = coerce(Param{Name: "n", Type: TypeNumber}, "1.25")
	require.ErrorIs(t, err, ErrBadParam)
}

func TestCountPlaceholders(t *testing.T) {
	assert.Equal(t, 0, countPlaceholders("SELECT 1"))
	assert.Equal(t, 2, countPlaceholders("SELECT ? , ?"))
	assert.Equal(t, 1, countPlaceholders("SELECT '?', \"a?\", ? -- ?\n"))
	assert.Equal(t, 1, countPlaceholders("SELECT /* ? */ ?"))
}

func TestInputSchema(t *testing.T) {
	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	require.NoError(t, json.Unmarshal(InputSchema(topRows()), &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, "integer", schema.Properties["limit"]["type"])
	assert.Equal(t, []string{"limit"}, schema.Required)
}

func TestFromConfig(t *testing.T) {
	qs := FromConfig([]config.QueryConfig{{
		Name:     "q",
		SQL:      "SELECT ?",
		TimeoutS: 7,
		Params:   []config.ParamConfig{{Name: "a"}},
	}})
	require.Len(t, qs, 1)
	assert.Equal(t, 7*time.Second, qs[0].Timeout)
	assert.Equal(t, TypeString, qs[0].Params[0].Type)
}

func TestExecuteAgainstSession(t *testing.T) {
	ctx := context.Background()
	sess, err := session.Open(session.Options{})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.LoadCSV(ctx, session.LoadOptions{Content: "region,amount\neu,10\nus,20\neu,30\n"})
	require.NoError(t, err)

	r := NewRegistry(sess)
	require.NoError(t, r.Register(&SavedQuery{
		Name:   "by_region",
		SQL:    "SELECT amount FROM region WHERE region = ? ORDER BY amount",
		Params: []Param{{Name: "region", Type: TypeString, Required: true}},
	}))

	res, err := r.ExecuteTool(ctx, "by_region", map[string]any{"region": "eu"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"amount": "10"}, {"amount": "30"}}, res.Rows)
	assert.Equal(t, int64(2), res.RowCount)
}
