// Package optimization provides the wholesaler's supplier-portfolio solver.
package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// PortfolioOptimizer solves the wholesaler's allocation problem over historical
// supplier returns (fraction of an order actually fulfilled).
//
// Mathematical formulation:
//
//	minimize  -(w'E) / sqrt(w'Cw)
//	subject to  Σw = 1
//	            w'E = targetReturn
//	            0 ≤ w_i ≤ 1
//
// where E is the vector of expected supplier returns and C the configured
// return covariance matrix. The objective maximizes the Sharpe ratio of the
// allocation rather than minimizing variance alone.
type PortfolioOptimizer struct {
	log zerolog.Logger
}

// New creates a portfolio optimizer.
func New(log zerolog.Logger) *PortfolioOptimizer {
	return &PortfolioOptimizer{
		log: log.With().Str("component", "optimization").Logger(),
	}
}

// Solve returns allocation weights for the given expected returns and
// covariance matrix. Equality constraints are handled with a penalty method;
// the final solution is projected to [0,1] and normalized so the weights sum
// to exactly 1.
func (po *PortfolioOptimizer) Solve(expected []float64, covMatrix [][]float64, targetReturn float64) ([]float64, error) {
	n := len(expected)
	if n == 0 {
		return nil, fmt.Errorf("no expected returns provided")
	}
	if len(covMatrix) != n {
		return nil, fmt.Errorf("covariance matrix size %d doesn't match asset count %d", len(covMatrix), n)
	}
	for i := range covMatrix {
		if len(covMatrix[i]) != n {
			return nil, fmt.Errorf("covariance matrix row %d has size %d, expected %d", i, len(covMatrix[i]), n)
		}
	}

	sigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigma.Set(i, j, covMatrix[i][j])
		}
	}

	penaltyWeight := 1000.0

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := projectToBounds(x)

			var returnVal, variance float64
			for i := 0; i < n; i++ {
				returnVal += expected[i] * xProj[i]
				for j := 0; j < n; j++ {
					variance += xProj[i] * xProj[j] * sigma.At(i, j)
				}
			}
			stdDev := math.Sqrt(math.Max(variance, 1e-10))

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}

			obj := -returnVal / stdDev

			// Penalty for sum constraint: (sum - 1)^2
			obj += penaltyWeight * (sum - 1.0) * (sum - 1.0)

			// Penalty for return constraint: (return - target)^2
			obj += penaltyWeight * (returnVal - targetReturn) * (returnVal - targetReturn)

			return obj
		},
		Grad: func(grad, x []float64) {
			xProj := projectToBounds(x)

			var returnVal, variance float64
			for i := 0; i < n; i++ {
				returnVal += expected[i] * xProj[i]
				for j := 0; j < n; j++ {
					variance += xProj[i] * xProj[j] * sigma.At(i, j)
				}
			}
			stdDev := math.Sqrt(math.Max(variance, 1e-10))

			for i := 0; i < n; i++ {
				var dVariance float64
				for j := 0; j < n; j++ {
					dVariance += 2 * sigma.At(i, j) * xProj[j]
				}
				grad[i] = -expected[i]/stdDev + returnVal*dVariance/(2*stdDev*stdDev*stdDev)
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}

			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * (returnVal - targetReturn) * expected[i]
			}
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}

	// Accept various successful convergence statuses
	successStatuses := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}
	if !successStatuses[result.Status] {
		// Try with different method
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
		if !successStatuses[result.Status] {
			return nil, fmt.Errorf("optimization did not converge: status=%v", result.Status)
		}
	}

	// Project final solution to bounds and normalize
	weights := projectToBounds(result.X)
	sum := 0.0
	for i := range weights {
		sum += weights[i]
	}
	for i := range weights {
		weights[i] = math.Max(0.0, weights[i]/math.Max(sum, 1e-10))
	}

	// Final normalization
	sum = 0.0
	for _, w := range weights {
		sum += w
	}
	if sum > 0 {
		for i := range weights {
			weights[i] /= sum
		}
	}

	po.log.Debug().Floats64("weights", weights).Msg("Solved supplier allocation")
	return weights, nil
}

// projectToBounds clamps each weight to [0,1].
func projectToBounds(x []float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(0.0, math.Min(1.0, x[i]))
	}
	return proj
}
