package lab

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAcceptsNumberOrString(t *testing.T) {
	var v struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 4.2, "b": "trace"}`), &v))
	assert.False(t, v.A.IsText)
	assert.Equal(t, 4.2, v.A.Num)
	assert.True(t, v.B.IsText)
	assert.Equal(t, "trace", v.B.String())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 4.2, "b": "trace"}`, string(out))
}

func TestValueRejectsNullAndObjects(t *testing.T) {
	var v Value
	assert.Error(t, json.Unmarshal([]byte(`null`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &v))
}

func TestCategoryMapKeepsLatest(t *testing.T) {
	m := CategoryMap{}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Set(CategoryRenal, "Creatinine", Reading{Value: Number(1.1), Timestamp: t0})
	m.Set(CategoryRenal, "Creatinine", Reading{Value: Number(2.4), Timestamp: t0.Add(time.Hour)})
	assert.Len(t, m[CategoryRenal], 1)
	assert.Equal(t, 2.4, m[CategoryRenal]["Creatinine"].Value.Num)

	c := m.Clone()
	c.Set(CategoryRenal, "BUN", Reading{Value: Number(40)})
	assert.Len(t, m[CategoryRenal], 1)
}

func TestOrderResolve(t *testing.T) {
	o := &Order{ID: "o1", Status: StatusPending}
	assert.True(t, o.Pending())
	at := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	o.Resolve(at, Result{Value: Number(5)})
	assert.False(t, o.Pending())
	assert.Equal(t, at, o.ResolvedAt)
	require.NotNil(t, o.Result)
}

func TestCatalog(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, c.Valid())
		assert.NotEmpty(t, ByCategory(c), c)
	}
	assert.False(t, Category("nope").Valid())
	assert.True(t, CategoryImaging.IsDiagnostic())
	assert.False(t, CategoryRenal.IsDiagnostic())

	tst, ok := Lookup("creatinine")
	require.True(t, ok)
	assert.Equal(t, CategoryRenal, tst.Category)

	hits := Search("potassium")
	assert.NotEmpty(t, hits)
	assert.Nil(t, Search("  "))
}
