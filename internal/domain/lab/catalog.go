// Package lab defines laboratory and diagnostic orders, results and the test catalog.
// This package is PURE and must NOT import any infrastructure packages.
package lab

import "strings"

// Category groups tests the way the result panels do.
type Category string

const (
	CategoryBasic      Category = "basic"
	CategoryRenal      Category = "renal"
	CategoryCBC        Category = "cbc"
	CategoryCoags      Category = "coags"
	CategoryUrinalysis Category = "urinalysis"
	CategoryABG        Category = "abg"
	CategoryImaging    Category = "imaging"
	CategoryOther      Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryBasic, CategoryRenal, CategoryCBC, CategoryCoags,
	CategoryUrinalysis, CategoryABG, CategoryImaging, CategoryOther,
}

// Label is the human name of a category.
func (c Category) Label() string {
	switch c {
	case CategoryBasic:
		return "Basic / Chemistry"
	case CategoryRenal:
		return "Renal Function"
	case CategoryCBC:
		return "Hematology"
	case CategoryCoags:
		return "Coagulation"
	case CategoryUrinalysis:
		return "Urinalysis"
	case CategoryABG:
		return "Blood Gas"
	case CategoryImaging:
		return "Imaging"
	case CategoryOther:
		return "Other Diagnostics"
	}
	return string(c)
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// IsDiagnostic reports whether orders in this category go through the diagnostic path.
func (c Category) IsDiagnostic() bool {
	return c == CategoryImaging || c == CategoryOther
}

// Test is one orderable catalog entry.
type Test struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

var catalog = []Test{
	{"bmp", "Basic Metabolic Panel", CategoryBasic, "Na, K, Cl, CO2, BUN, Cr, Glucose, Ca"},
	{"cmp", "Comprehensive Metabolic Panel", CategoryBasic, "BMP + liver function tests + albumin + total protein"},
	{"lft", "Liver Function Tests", CategoryBasic, "AST, ALT, ALP, bilirubin, albumin, total protein"},
	{"sodium", "Sodium", CategoryBasic, "Serum sodium level"},
	{"potassium", "Potassium", CategoryBasic, "Serum potassium level"},
	{"chloride", "Chloride", CategoryBasic, "Serum chloride level"},
	{"bicarbonate", "Bicarbonate", CategoryBasic, "Serum bicarbonate (CO2) level"},
	{"calcium", "Calcium", CategoryBasic, "Total serum calcium level"},
	{"ionized_calcium", "Ionized Calcium", CategoryBasic, "Ionized calcium level"},
	{"magnesium", "Magnesium", CategoryBasic, "Serum magnesium level"},
	{"phosphorus", "Phosphorus", CategoryBasic, "Serum phosphorus level"},
	{"glucose", "Glucose", CategoryBasic, "Serum glucose level"},

	{"bun", "BUN", CategoryRenal, "Blood urea nitrogen"},
	{"creatinine", "Creatinine", CategoryRenal, "Serum creatinine level"},
	{"bun_cr_ratio", "BUN/Creatinine Ratio", CategoryRenal, "BUN to creatinine ratio"},
	{"egfr", "eGFR", CategoryRenal, "Estimated glomerular filtration rate"},
	{"cystatin_c", "Cystatin C", CategoryRenal, "Marker of kidney function"},
	{"uric_acid", "Uric Acid", CategoryRenal, "Serum uric acid level"},
	{"osmolality_serum", "Serum Osmolality", CategoryRenal, "Serum osmolality measurement"},
	{"urine_electrolytes", "Urine Electrolytes", CategoryRenal, "Na, K, Cl in urine"},
	{"creatinine_clearance", "Creatinine Clearance", CategoryRenal, "24-hour urine creatinine clearance"},
	{"protein_creatinine_ratio", "Protein/Creatinine Ratio", CategoryRenal, "Urine protein to creatinine ratio"},
	{"albumin_creatinine_ratio", "Albumin/Creatinine Ratio", CategoryRenal, "Urine albumin to creatinine ratio"},

	{"cbc", "Complete Blood Count", CategoryCBC, "Full blood count with differential"},
	{"hemoglobin", "Hemoglobin", CategoryCBC, "Hemoglobin level"},
	{"hematocrit", "Hematocrit", CategoryCBC, "Hematocrit percentage"},
	{"wbc", "White Blood Cells", CategoryCBC, "White blood cell count"},
	{"platelet", "Platelets", CategoryCBC, "Platelet count"},

	{"pt_inr", "PT/INR", CategoryCoags, "Prothrombin time and international normalized ratio"},
	{"ptt", "PTT", CategoryCoags, "Partial thromboplastin time"},
	{"fibrinogen", "Fibrinogen", CategoryCoags, "Fibrinogen level"},
	{"d_dimer", "D-dimer", CategoryCoags, "D-dimer level"},

	{"urinalysis", "Urinalysis", CategoryUrinalysis, "Complete urinalysis with microscopic examination"},
	{"urine_culture", "Urine Culture", CategoryUrinalysis, "Culture for bacterial growth"},
	{"urine_sodium", "Urine Sodium", CategoryUrinalysis, "Sodium level in urine"},
	{"urine_potassium", "Urine Potassium", CategoryUrinalysis, "Potassium level in urine"},
	{"urine_creatinine", "Urine Creatinine", CategoryUrinalysis, "Creatinine level in urine"},
	{"urine_protein", "Urine Protein", CategoryUrinalysis, "Protein level in urine"},
	{"urine_osmolality", "Urine Osmolality", CategoryUrinalysis, "Urine osmolality measurement"},

	{"abg", "Arterial Blood Gas", CategoryABG, "Complete ABG with pH, PaO2, PaCO2, HCO3"},
	{"vbg", "Venous Blood Gas", CategoryABG, "Venous blood gas analysis"},
	{"lactate", "Lactate", CategoryABG, "Blood lactate level"},

	{"cxr", "Chest X-Ray", CategoryImaging, "Radiograph of the chest"},
	{"kub", "KUB", CategoryImaging, "X-ray of kidneys, ureters, bladder"},
	{"us_renal", "Renal Ultrasound", CategoryImaging, "Ultrasound of kidneys and urinary tract"},
	{"ct_abdomen", "CT Abdomen/Pelvis", CategoryImaging, "CT scan of abdomen and pelvis"},
	{"mri_renal", "MRI Kidneys", CategoryImaging, "MRI of kidneys"},
	{"renal_doppler", "Renal Doppler Ultrasound", CategoryImaging, "Doppler ultrasound of renal vessels"},

	{"ecg", "ECG", CategoryOther, "Electrocardiogram"},
	{"renal_biopsy", "Renal Biopsy", CategoryOther, "Kidney tissue sample for pathological examination"},
	{"bladder_scan", "Bladder Scan", CategoryOther, "Ultrasound measurement of bladder volume"},
	{"dialysis_cath_check", "Dialysis Catheter Check", CategoryOther, "Evaluation of dialysis catheter function"},
}

// Catalog returns every orderable test.
func Catalog() []Test {
	out := make([]Test, len(catalog))
	copy(out, catalog)
	return out
}

// ByCategory returns the tests of one category.
func ByCategory(c Category) []Test {
	var out []Test
	for _, t := range catalog {
		if t.Category == c {
			out = append(out, t)
		}
	}
	return out
}

// Lookup finds a test by id. Ids repeated across categories (urine_creatinine) resolve to the first.
func Lookup(id string) (Test, bool) {
	for _, t := range catalog {
		if t.ID == id {
			return t, true
		}
	}
	return Test{}, false
}

// Search matches name or description, case-insensitively.
func Search(q string) []Test {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil
	}
	var out []Test
	for _, t := range catalog {
		if strings.Contains(strings.ToLower(t.Name), q) || strings.Contains(strings.ToLower(t.Description), q) {
			out = append(out, t)
		}
	}
	return out
}
