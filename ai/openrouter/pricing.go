package openrouter

// ModelPricing is the OpenRouter list price of a model, in USD per million tokens
type ModelPricing struct {
	PromptPrice     float64
	CompletionPrice float64
}

// modelPricing covers the models ticketpulse is usually configured with.
// TODO: load from the OpenRouter /models endpoint at startup instead of hardcoding.
var modelPricing = map[string]ModelPricing{
	"openai/gpt-4o":                    {PromptPrice: 2.50, CompletionPrice: 10.00},
	"openai/gpt-4o-mini":               {PromptPrice: 0.15, CompletionPrice: 0.60},
	"anthropic/claude-3.5-sonnet":      {PromptPrice: 3.00, CompletionPrice: 15.00},
	"anthropic/claude-3-haiku":         {PromptPrice: 0.25, CompletionPrice: 1.25},
	"google/gemini-flash-1.5":          {PromptPrice: 0.075, CompletionPrice: 0.30},
	"meta-llama/llama-3.1-8b-instruct": {PromptPrice: 0.055, CompletionPrice: 0.055},
}

// DefaultPricingFallback is charged per request when the model price is unknown
const DefaultPricingFallback = 0.01

// CalculateCost estimates the USD cost of one completion
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, found := modelPricing[model]
	if !found {
		return DefaultPricingFallback
	}

	promptCost := (float64(promptTokens) / 1_000_000.0) * pricing.PromptPrice
	completionCost := (float64(completionTokens) / 1_000_000.0) * pricing.CompletionPrice
	return promptCost + completionCost
}

// GetPricing returns pricing information for a model, if available
func GetPricing(model string) (ModelPricing, bool) {
	pricing, found := modelPricing[model]
	return pricing, found
}
