package analytics

// percentage returns part/whole*100, or 0 when whole is zero.
func percentage(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// ApplyConversionRates sets each step's rate relative to the step before it.
// The first step keeps a rate of 0.
func ApplyConversionRates(steps []StepStats) {
	for i := range steps {
		if i == 0 {
			steps[i].ConversionRate = 0
			continue
		}
		steps[i].ConversionRate = percentage(steps[i].UniqueVisitors, steps[i-1].UniqueVisitors)
	}
}

// DetectDropOffs lists, in step order, the steps losing more than
// DropOffThreshold percent of the previous step's visitors.
func DetectDropOffs(steps []StepStats) []DropOffPoint {
	points := []DropOffPoint{}
	for i := 1; i < len(steps); i++ {
		previous := steps[i-1].UniqueVisitors
		if previous <= 0 {
			continue
		}
		rate := percentage(previous-steps[i].UniqueVisitors, previous)
		if rate > DropOffThreshold {
			points = append(points, DropOffPoint{
				StepOrder:   steps[i].StepOrder,
				StepName:    steps[i].StepName,
				DropOffRate: rate,
			})
		}
	}
	return points
}

// Summarize computes entries, completions, overall rate and drop-offs.
func Summarize(steps []StepStats) Summary {
	summary := Summary{DropOffPoints: []DropOffPoint{}}
	if len(steps) == 0 {
		return summary
	}
	summary.TotalEntries = steps[0].UniqueVisitors
	summary.TotalCompletions = steps[len(steps)-1].UniqueVisitors
	summary.OverallConversionRate = percentage(summary.TotalCompletions, summary.TotalEntries)
	summary.DropOffPoints = DetectDropOffs(steps)
	return summary
}
