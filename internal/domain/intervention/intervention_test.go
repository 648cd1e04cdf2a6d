package intervention

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpecValidate(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		ok   bool
	}{
		{"infusion", Spec{Name: "Normal Saline", Type: TypeFluid, Rate: 100}, true},
		{"medication", Spec{Name: "Furosemide", Type: TypeMedication}, true},
		{"no name", Spec{Type: TypeFluid, Rate: 100}, false},
		{"zero rate", Spec{Name: "Normal Saline", Type: TypeFluid}, false},
		{"nan rate", Spec{Name: "Normal Saline", Type: TypeFluid, Rate: math.NaN()}, false},
		{"infinite rate", Spec{Name: "Normal Saline", Type: TypeFluid, Rate: math.Inf(1)}, false},
		{"nan rate on medication", Spec{Name: "Furosemide", Type: TypeMedication, Rate: math.NaN()}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
