package metric

import (
	"fmt"

	"github.com/nova-compute/fairnessd/pkg/vector"
)

const (
	floatingError     = 1e-11
	greedinessDiscount = 1.0
	greedinessNorm     = 1.0
)

// Greediness is the built-in default Metric, ported from
// original_source's GreedinessMetric. It charges a VM in proportion to
// its excess demand over its fair endowment, crediting under-demanding
// VMs in proportion to the cloud-wide over/under-demand ratio.
type Greediness struct{}

// Name implements Metric.
func (Greediness) Name() string { return "GreedinessMetric" }

// Description implements Metric.
func (Greediness) Description() string {
	return "Charges VMs proportional to excess demand over their fair endowment, normalized by cloud supply and user count."
}

// Map implements Metric. demands/endowments are keyed by instance name;
// both maps must have identical key sets, non-negative vectors, and the
// column sum of endowments must not exceed supply by more than
// floatingError in any dimension.
func (Greediness) Map(supply vector.Vector, demands, endowments map[string]VMSample, userCount int, computeHost string) (Result, error) {
	names := make([]string, 0, len(demands))
	for name := range demands {
		names = append(names, name)
	}
	if err := checkShapesAndSigns(names, demands, endowments, supply); err != nil {
		return Result{}, err
	}

	norm := computeNorm(supply, userCount)

	n := len(names)
	delta := make([][6]float64, n)
	for i, name := range names {
		d := demands[name].Vector.Dimensions()
		e := endowments[name].Vector.Dimensions()
		for k := 0; k < 6; k++ {
			delta[i][k] = d[k] - e[k]
		}
	}

	var posSum, negSum [6]float64
	pos := make([][6]float64, n)
	neg := make([][6]float64, n)
	for i := range delta {
		for k := 0; k < 6; k++ {
			if delta[i][k] > 0 {
				pos[i][k] = delta[i][k]
				posSum[k] += delta[i][k]
			} else {
				neg[i][k] = delta[i][k]
				negSum[k] += delta[i][k]
			}
		}
	}

	var clamped [6]float64
	for k := 0; k < 6; k++ {
		ratio := posSum[k] / notZero(negSum[k])
		clamped[k] = maxFloat(ratio, -1)
	}

	perVM := make(map[string]VMEntry, n)
	for i, name := range names {
		var g float64
		for k := 0; k < 6; k++ {
			g += (pos[i][k] - greedinessDiscount*neg[i][k]*clamped[k]) * norm[k]
		}
		var normalizedEndowment float64
		e := endowments[name].Vector.Dimensions()
		for k := 0; k < 6; k++ {
			normalizedEndowment += e[k] * norm[k]
		}
		perVM[name] = VMEntry{
			ComputeHost:        endowments[name].ComputeHost,
			UserID:             endowments[name].UserID,
			NormalizedEndowment: normalizedEndowment,
			Heaviness:          g,
		}
	}

	return Result{GlobalNorm: norm, ComputeHost: computeHost, PerVM: perVM}, nil
}

// checkShapesAndSigns enforces the Metric.map preconditions: D ≥ 0,
// E ≥ 0, matching key sets, and columnSum(E) ≤ S + floatingError.
func checkShapesAndSigns(names []string, demands, endowments map[string]VMSample, supply vector.Vector) error {
	if len(demands) != len(endowments) {
		return fmt.Errorf("metric: demand/endowment shape mismatch: %d vs %d", len(demands), len(endowments))
	}
	var endowmentSum [6]float64
	s := supply.Dimensions()
	for _, name := range names {
		e, ok := endowments[name]
		if !ok {
			return fmt.Errorf("metric: no endowment for VM %q", name)
		}
		d := demands[name].Vector.Dimensions()
		ev := e.Vector.Dimensions()
		for k := 0; k < 6; k++ {
			if d[k] < 0 {
				return fmt.Errorf("metric: negative demand for VM %q dimension %d", name, k)
			}
			if ev[k] < 0 {
				return fmt.Errorf("metric: negative endowment for VM %q dimension %d", name, k)
			}
			endowmentSum[k] += ev[k]
		}
	}
	for k := 0; k < 6; k++ {
		if endowmentSum[k] > s[k]+floatingError {
			return fmt.Errorf("metric: endowment sum %v exceeds supply %v in dimension %d", endowmentSum[k], s[k], k)
		}
	}
	return nil
}

// computeNorm returns norm[k] = userCount*normalizer/(6*S[k]), with the
// -1 sentinel when S[k] == 0.
func computeNorm(supply vector.Vector, userCount int) [6]float64 {
	s := supply.Dimensions()
	var norm [6]float64
	for k := 0; k < 6; k++ {
		if s[k] == 0 {
			norm[k] = vector.Sentinel
			continue
		}
		norm[k] = float64(userCount) * greedinessNorm / (6 * s[k])
	}
	return norm
}

// notZero maps 0 to -1, otherwise returns x unchanged.
func notZero(x float64) float64 {
	if x == 0 {
		return -1
	}
	return x
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
