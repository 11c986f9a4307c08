package game

import "aiventure/internal/model"

// RecomputeValuation derives a lab's valuation from its current
// composition. It is a pure function of employees, models, and
// location: derived state is always recomputed from scratch, never
// patched incrementally, so repeated calls on the same lab agree.
func RecomputeValuation(lab model.Lab) float64 {
	base := float64(len(lab.Models)) * ModelValuation
	for _, e := range lab.Employees {
		base += qualityMult(e.QualityID) * e.Salary
	}
	return locationOf(lab).ValuationMult * base
}

// RecomputeIncome derives a lab's income rate the same way.
func RecomputeIncome(lab model.Lab) float64 {
	base := float64(len(lab.Models)) * ModelIncome
	for _, e := range lab.Employees {
		base += qualityMult(e.QualityID) * EmployeeBaseIncome
	}
	return locationOf(lab).IncomeMult * base
}

func locationOf(lab model.Lab) Location {
	if loc, ok := locations[lab.Location]; ok {
		return loc
	}
	// Unknown locations contribute neutral multipliers rather than
	// zeroing a lab out.
	return Location{ValuationMult: 1.0, IncomeMult: 1.0, ResearchMult: 1.0}
}

func qualityMult(qualityID int) float64 {
	if m, ok := qualityIncomeMult[qualityID]; ok {
		return m
	}
	return 1.0
}
