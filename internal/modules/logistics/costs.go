// Package logistics accounts for the trucking cost of delivering the end
// consumer's demand: dollars for the cross-border haul, CO2 from farming and
// travel, and irrigation water for the acreage behind each truckload.
package logistics

import "math"

// Produce yields and truck geometry. Demand is expressed in thousands of
// pounds, so a 38,000 lbs truck covers 38 demand units (trucks cube out
// before they weigh out).
const (
	YieldPerAcre      = 30000.0 // lbs of produce per acre per year
	TruckCapacityLbs  = 38000.0 // lbs per truck
	TruckDemandUnits  = 38.0    // demand units per truck (demand is in thousands of lbs)
	AcresPerTruck     = TruckCapacityLbs / YieldPerAcre
	CO2PerAcre        = 13889.13 // lbs CO2 per acre per year
	CO2PerTravelRatio = 6 * 22.4 // lbs CO2 per mile at 22.4 lbs/mile, 6 mpg
	WaterPerAcre      = 32000.0  // gallons per acre
)

// Params holds the route configuration for the retailer's inbound haul.
type Params struct {
	MilesMexico       float64
	MilesUS           float64
	CostPerMileMexico float64
	CostPerMileUS     float64
}

// Costs is the per-period logistics bill attributed to one demand draw.
type Costs struct {
	Trucks int
	Money  float64
	CO2    float64
	Water  float64
}

// Calculator prices a period's consumer demand.
type Calculator struct {
	params Params
}

// NewCalculator creates a calculator for the given route.
func NewCalculator(params Params) *Calculator {
	return &Calculator{params: params}
}

// ForDemand returns the trucking bill for one period's consumer demand.
func (c *Calculator) ForDemand(demand int) Costs {
	trucks := int(math.Ceil(float64(demand) / TruckDemandUnits))

	costPerTruck := c.params.MilesMexico*c.params.CostPerMileMexico +
		c.params.MilesUS*c.params.CostPerMileUS

	totalMiles := c.params.MilesMexico + c.params.MilesUS
	co2PerTruck := AcresPerTruck*CO2PerAcre + totalMiles*CO2PerTravelRatio
	waterPerTruck := AcresPerTruck * WaterPerAcre

	return Costs{
		Trucks: trucks,
		Money:  float64(trucks) * costPerTruck,
		CO2:    float64(trucks) * co2PerTruck,
		Water:  float64(trucks) * waterPerTruck,
	}
}
