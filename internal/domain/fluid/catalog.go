package fluid

// IVFluid is one catalog fluid.
type IVFluid struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Composition string `json:"composition"`
	Osmolarity  string `json:"osmolarity"`
	Tonicity    string `json:"tonicity"`
}

var ivFluids = []IVFluid{
	{"ns", "Normal Saline (0.9% NaCl)", "0.9% NaCl (154 mEq/L Na, 154 mEq/L Cl)", "308 mOsm/L", "Isotonic"},
	{"half_ns", "0.45% NaCl", "0.45% NaCl (77 mEq/L Na, 77 mEq/L Cl)", "154 mOsm/L", "Hypotonic"},
	{"quarter_ns", "0.225% NaCl", "0.225% NaCl (38.5 mEq/L Na, 38.5 mEq/L Cl)", "77 mOsm/L", "Hypotonic"},
	{"d5w", "D5W", "5% Dextrose in Water", "252 mOsm/L", "Hypotonic (after dextrose metabolism)"},
	{"d5ns", "D5 0.9% NaCl", "5% Dextrose in 0.9% NaCl", "560 mOsm/L", "Hypertonic"},
	{"d5half", "D5 0.45% NaCl", "5% Dextrose in 0.45% NaCl", "406 mOsm/L", "Hypotonic after dextrose metabolism"},
	{"lr", "Lactated Ringer's", "130 mEq/L Na, 4 mEq/L K, 2.7 mEq/L Ca, 109 mEq/L Cl, 28 mEq/L lactate", "273 mOsm/L", "Isotonic"},
	{"d5lr", "D5 Lactated Ringer's", "5% Dextrose in Lactated Ringer's", "525 mOsm/L", "Hypertonic"},
	{"three_salt", "3% NaCl", "3% NaCl (513 mEq/L Na, 513 mEq/L Cl)", "1026 mOsm/L", "Hypertonic"},
}

// RatePresets are the common infusion rates in mL/hr.
var RatePresets = []float64{50, 75, 100, 125, 150, 200, 250, 500}

// IVFluids returns the fluid catalog.
func IVFluids() []IVFluid {
	out := make([]IVFluid, len(ivFluids))
	copy(out, ivFluids)
	return out
}

// LookupIVFluid finds a catalog fluid by id.
func LookupIVFluid(id string) (IVFluid, bool) {
	for _, f := range ivFluids {
		if f.ID == id {
			return f, true
		}
	}
	return IVFluid{}, false
}
