package features

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Numeric feature names taken directly or derived from the application.
const (
	Age                    = "age"
	LoanToIncome           = "loan_to_income"
	LoanTenureMonths       = "loan_tenure_months"
	AvgDPDPerDelinquency   = "avg_dpd_per_delinquency"
	DelinquencyRatio       = "delinquency_ratio"
	CreditUtilizationRatio = "credit_utilization_ratio"
	NumberOfOpenAccounts   = "number_of_open_accounts"
)

// Build assembles the unscaled feature vector for app.
//
// Order is numeric inputs, then indicator columns in schema order, then
// placeholders in table order. Build never fails: an income of zero gives a
// loan_to_income of 0 and an unlisted categorical value gives all-zero
// indicators. Domain checks belong to Application.Validate.
func Build(app *domain.Application, placeholders Placeholders, schema CategoricalSchema) *Vector {
	v := NewVector(7 + len(schema.Columns()) + placeholders.Len())

	v.Set(Age, float64(app.Age))
	v.Set(LoanToIncome, loanToIncome(app.LoanAmount, app.Income))
	v.Set(LoanTenureMonths, float64(app.LoanTenureMonths))
	v.Set(AvgDPDPerDelinquency, float64(app.AvgDPDPerDelinquency))
	v.Set(DelinquencyRatio, app.DelinquencyRatio)
	v.Set(CreditUtilizationRatio, app.CreditUtilizationRatio)
	v.Set(NumberOfOpenAccounts, float64(app.NumberOfOpenAccounts))

	for _, field := range schema {
		value := categoricalValue(app, field.Name)
		for _, level := range field.Levels {
			ind := 0.0
			if value == level {
				ind = 1
			}
			v.Set(ColumnName(field.Name, level), ind)
		}
	}

	for _, name := range placeholders.names {
		v.Set(name, placeholders.values[name])
	}

	return v
}

// BuildDefault builds with DefaultPlaceholders and DefaultSchema.
func BuildDefault(app *domain.Application) *Vector {
	return Build(app, DefaultPlaceholders(), DefaultSchema)
}

func loanToIncome(loan, income float64) float64 {
	if income == 0 {
		return 0
	}
	return loan / income
}

func categoricalValue(app *domain.Application, field string) string {
	switch field {
	case FieldResidenceType:
		return string(app.ResidenceType)
	case FieldLoanPurpose:
		return string(app.LoanPurpose)
	case FieldLoanType:
		return string(app.LoanType)
	default:
		return ""
	}
}

// Columns returns the names Build produces for the given table and schema,
// in the same order.
func Columns(placeholders Placeholders, schema CategoricalSchema) []string {
	return Build(&domain.Application{}, placeholders, schema).Names()
}
