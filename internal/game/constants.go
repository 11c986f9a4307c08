// Package game is the real-time session core: the connection
// registry, the per-connection command dispatcher, and the background
// income scheduler.
package game

// Balance constants. These are data, not algorithm; tuning them does
// not change any contract in this package.
const (
	// BasePlayerFunds is the starting balance for a new player.
	BasePlayerFunds = 100_000_000.0
	// CreateLabCost is debited when a player founds a lab.
	CreateLabCost = 100_000.0
	// CreateModelCost is debited when a lab builds a model.
	CreateModelCost = 10_000.0
	// IncomeTickBonus is a flat per-tick stipend credited on top of
	// investment income, so a player with no labs still progresses.
	IncomeTickBonus = 2.0

	// ModelValuation and ModelIncome are each model's contribution to
	// its lab's derived state before location multipliers.
	ModelValuation = 50_000.0
	ModelIncome    = 1_000.0
	// EmployeeBaseIncome is each employee's income contribution before
	// the quality multiplier.
	EmployeeBaseIncome = 100.0

	// LeaderboardLimit bounds the top-labs query.
	LeaderboardLimit = 100
)

// Location is reference data seeded at init and never mutated at
// runtime.
type Location struct {
	ID            int
	Name          string
	Description   string
	ValuationMult float64
	IncomeMult    float64
	ResearchMult  float64
}

var locations = map[string]Location{
	"us":   {ID: 1, Name: "US", Description: "Silicon Valley Hub", ValuationMult: 1.05, IncomeMult: 1.05, ResearchMult: 1.00},
	"eu":   {ID: 2, Name: "EU", Description: "Research Focus", ValuationMult: 0.95, IncomeMult: 1.00, ResearchMult: 1.15},
	"apac": {ID: 3, Name: "APAC", Description: "Asia Pacific", ValuationMult: 1.00, IncomeMult: 1.05, ResearchMult: 1.05},
}

func LocationByKey(key string) (Location, bool) {
	loc, ok := locations[key]
	return loc, ok
}

// ModelCategory is the fixed model-type enumeration.
type ModelCategory struct {
	ID   int
	Name string
}

var modelCategories = map[string]ModelCategory{
	"audio":       {ID: 1, Name: "Audio"},
	"cv":          {ID: 2, Name: "CV"},
	"nlp":         {ID: 3, Name: "NLP"},
	"multi_modal": {ID: 4, Name: "Multi Modal"},
}

func ModelCategoryByKey(key string) (ModelCategory, bool) {
	cat, ok := modelCategories[key]
	return cat, ok
}

// qualityIncomeMult scales an employee's contribution by quality tier,
// from Poor (-50%) up to Star (+200%).
var qualityIncomeMult = map[int]float64{
	1: 0.5,
	2: 0.9,
	3: 1.1,
	4: 1.4,
	5: 1.8,
	6: 2.2,
	7: 3.0,
}
