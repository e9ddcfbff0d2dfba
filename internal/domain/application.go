package domain

import (
	"fmt"
	"math"
)

// ResidenceType is the applicant's housing status.
type ResidenceType string

const (
	ResidenceOwned    ResidenceType = "Owned"
	ResidenceRented   ResidenceType = "Rented"
	ResidenceMortgage ResidenceType = "Mortgage"
)

// LoanPurpose is the declared use of the loan.
type LoanPurpose string

const (
	PurposeEducation LoanPurpose = "Education"
	PurposeHome      LoanPurpose = "Home"
	PurposePersonal  LoanPurpose = "Personal"
	PurposeAuto      LoanPurpose = "Auto"
)

// LoanType distinguishes collateralised from unsecured lending.
type LoanType string

const (
	LoanSecured   LoanType = "Secured"
	LoanUnsecured LoanType = "Unsecured"
)

// Application holds the eleven raw applicant and loan attributes
// collected for a single scoring call.
type Application struct {
	Age                    int           `json:"age"`
	Income                 float64       `json:"income"`
	LoanAmount             float64       `json:"loanAmount"`
	LoanTenureMonths       int           `json:"loanTenureMonths"`
	AvgDPDPerDelinquency   int           `json:"avgDpdPerDelinquency"`
	DelinquencyRatio       float64       `json:"delinquencyRatio"`
	CreditUtilizationRatio float64       `json:"creditUtilizationRatio"`
	NumberOfOpenAccounts   int           `json:"numberOfOpenAccounts"`
	ResidenceType          ResidenceType `json:"residenceType"`
	LoanPurpose            LoanPurpose   `json:"loanPurpose"`
	LoanType               LoanType      `json:"loanType"`
}

// Validate checks every field against its documented domain.
// Callers run it before scoring; the feature builder itself never rejects input.
func (a *Application) Validate() error {
	switch {
	case a.Age < 18:
		return fmt.Errorf("%w: age must be at least 18, got %d", ErrInvalidInput, a.Age)
	case !nonNegative(a.Income):
		return fmt.Errorf("%w: income must be a non-negative number", ErrInvalidInput)
	case !nonNegative(a.LoanAmount):
		return fmt.Errorf("%w: loan amount must be a non-negative number", ErrInvalidInput)
	case a.LoanTenureMonths <= 0:
		return fmt.Errorf("%w: loan tenure must be positive, got %d", ErrInvalidInput, a.LoanTenureMonths)
	case a.AvgDPDPerDelinquency < 0:
		return fmt.Errorf("%w: avg DPD per delinquency must be non-negative, got %d", ErrInvalidInput, a.AvgDPDPerDelinquency)
	case !percentage(a.DelinquencyRatio):
		return fmt.Errorf("%w: delinquency ratio must be between 0 and 100", ErrInvalidInput)
	case !percentage(a.CreditUtilizationRatio):
		return fmt.Errorf("%w: credit utilization ratio must be between 0 and 100", ErrInvalidInput)
	case a.NumberOfOpenAccounts <= 0:
		return fmt.Errorf("%w: number of open accounts must be positive, got %d", ErrInvalidInput, a.NumberOfOpenAccounts)
	}

	switch a.ResidenceType {
	case ResidenceOwned, ResidenceRented, ResidenceMortgage:
	default:
		return fmt.Errorf("%w: unknown residence type %q", ErrInvalidInput, a.ResidenceType)
	}

	switch a.LoanPurpose {
	case PurposeEducation, PurposeHome, PurposePersonal, PurposeAuto:
	default:
		return fmt.Errorf("%w: unknown loan purpose %q", ErrInvalidInput, a.LoanPurpose)
	}

	switch a.LoanType {
	case LoanSecured, LoanUnsecured:
	default:
		return fmt.Errorf("%w: unknown loan type %q", ErrInvalidInput, a.LoanType)
	}

	return nil
}

func nonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func percentage(v float64) bool {
	return nonNegative(v) && v <= 100
}
