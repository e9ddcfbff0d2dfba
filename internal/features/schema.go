package features

import "sort"

// Categorical field names as they appear in one-hot column names.
const (
	FieldResidenceType = "residence_type"
	FieldLoanPurpose   = "loan_purpose"
	FieldLoanType      = "loan_type"
)

// CategoricalField lists the levels of one enumerated input that get an
// indicator column. Levels left out act as the baseline and produce all zeros.
type CategoricalField struct {
	Name   string   `json:"name"`
	Levels []string `json:"levels"`
}

// CategoricalSchema is the ordered set of one-hot expansions.
type CategoricalSchema []CategoricalField

// DefaultSchema matches the encoding the model was trained with.
// Mortgage, Auto and Secured are the dropped baselines.
var DefaultSchema = CategoricalSchema{
	{Name: FieldResidenceType, Levels: []string{"Owned", "Rented"}},
	{Name: FieldLoanPurpose, Levels: []string{"Education", "Home", "Personal"}},
	{Name: FieldLoanType, Levels: []string{"Unsecured"}},
}

// ColumnName returns the indicator column for a field level.
func ColumnName(field, level string) string {
	return field + "_" + level
}

// Columns returns every indicator column in schema order.
func (s CategoricalSchema) Columns() []string {
	var cols []string
	for _, f := range s {
		for _, level := range f.Levels {
			cols = append(cols, ColumnName(f.Name, level))
		}
	}
	return cols
}

// Placeholder feature names. The model's scaler was fitted with these
// columns but no input collects them.
const (
	NumberOfClosedAccounts   = "number_of_closed_accounts"
	EnquiryCount             = "enquiry_count"
	NumberOfDependants       = "number_of_dependants"
	YearsAtCurrentAddress    = "years_at_current_address"
	SanctionAmount           = "sanction_amount"
	ProcessingFee            = "processing_fee"
	GST                      = "gst"
	NetDisbursement          = "net_disbursement"
	PrincipalOutstanding     = "principal_outstanding"
	BankBalanceAtApplication = "bank_balance_at_application"
)

// Placeholders is the table of constant values filled in for features the
// scaler expects but the application does not carry.
type Placeholders struct {
	names  []string
	values map[string]float64
}

// DefaultPlaceholders returns every placeholder feature held at 1.
func DefaultPlaceholders() Placeholders {
	names := []string{
		NumberOfClosedAccounts,
		EnquiryCount,
		NumberOfDependants,
		YearsAtCurrentAddress,
		SanctionAmount,
		ProcessingFee,
		GST,
		NetDisbursement,
		PrincipalOutstanding,
		BankBalanceAtApplication,
	}
	p := Placeholders{names: names, values: make(map[string]float64, len(names))}
	for _, n := range names {
		p.values[n] = 1
	}
	return p
}

// With returns a copy of the table with one entry set. Unknown names are appended.
func (p Placeholders) With(name string, value float64) Placeholders {
	out := Placeholders{
		names:  make([]string, len(p.names), len(p.names)+1),
		values: make(map[string]float64, len(p.values)+1),
	}
	copy(out.names, p.names)
	for k, v := range p.values {
		out.values[k] = v
	}
	if _, ok := out.values[name]; !ok {
		out.names = append(out.names, name)
	}
	out.values[name] = value
	return out
}

// WithAll applies every override in name order.
func (p Placeholders) WithAll(overrides map[string]float64) Placeholders {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := p
	for _, k := range keys {
		out = out.With(k, overrides[k])
	}
	return out
}

// Value returns the placeholder value for name.
func (p Placeholders) Value(name string) (float64, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Names returns placeholder names in table order.
func (p Placeholders) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len returns the number of entries.
func (p Placeholders) Len() int {
	return len(p.names)
}
