package patient

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMAP(t *testing.T) {
	assert.Equal(t, 93, ComputeMAP(120, 80))
	assert.Equal(t, 70, ComputeMAP(90, 60))
	assert.Equal(t, 0, ComputeMAP(0, 0))
}

func TestComputeMAPProperty(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		dbp := r.Intn(150)
		sbp := dbp + r.Intn(150)
		want := int(math.Round(float64(dbp) + float64(sbp-dbp)/3))
		v := Vitals{SBP: sbp, DBP: dbp}
		require.Equal(t, want, v.MAP(), "sbp=%d dbp=%d", sbp, dbp)

		// every BP change recomputes
		v.SBP += 9
		require.Equal(t, ComputeMAP(sbp+9, dbp), v.MAP())
	}
}

func TestSampleJSONIncludesMAP(t *testing.T) {
	ts := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	s := Sample{Vitals: Vitals{HR: 80, SBP: 120, DBP: 80, RR: 16, Temp: 37, SpO2: 98}, Timestamp: ts}
	b, err := json.Marshal(s)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.EqualValues(t, 93, out["map"])
	assert.EqualValues(t, 80, out["hr"])
	assert.Contains(t, out, "timestamp")
}

func TestTimelineCurrent(t *testing.T) {
	var tl Timeline
	_, ok := tl.Current()
	assert.False(t, ok)

	tl.Append(Sample{Vitals: Vitals{HR: 70}})
	tl.Append(Sample{Vitals: Vitals{HR: 90}})
	cur, ok := tl.Current()
	require.True(t, ok)
	assert.Equal(t, 90, cur.HR)
	assert.Equal(t, 2, tl.Len())

	h := tl.History()
	h[0].HR = 1
	assert.Equal(t, 70, tl.History()[0].HR)
}

func TestPatientHelpers(t *testing.T) {
	var nilPatient *Patient
	assert.False(t, nilPatient.HasWeight())

	p := &Patient{
		Demographics: Demographics{Name: "Jane Roe", Age: 64, Gender: "female", WeightKg: 70},
		Location:     "ICU",
		Allergies:    []string{"penicillin"},
	}
	assert.True(t, p.HasWeight())
	assert.Equal(t, "Jane Roe, 64y F (ICU)", p.Summary())

	c := p.Clone()
	c.Allergies[0] = "none"
	assert.Equal(t, "penicillin", p.Allergies[0])
}
