package service

import "github.com/shopspring/decimal"

// CalculateCost estimates the dollar cost of one model call from per-1M-token
// prices.
func CalculateCost(promptTokens, completionTokens int, promptPrice, completionPrice float64) decimal.Decimal {
	promptCost := decimal.NewFromFloat(float64(promptTokens) * promptPrice / 1_000_000)
	completionCost := decimal.NewFromFloat(float64(completionTokens) * completionPrice / 1_000_000)
	return promptCost.Add(completionCost)
}
