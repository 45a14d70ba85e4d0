package llm

import "strings"

// USD per million tokens. Unknown models fall back to a conservative default
// so cost estimates never silently read zero.
type modelPrice struct {
	InputPerM  float64
	OutputPerM float64
}

var modelPrices = map[string]modelPrice{
	"gpt-4o":            {InputPerM: 2.50, OutputPerM: 10.00},
	"gpt-4o-mini":       {InputPerM: 0.15, OutputPerM: 0.60},
	"claude-sonnet-4-5": {InputPerM: 3.00, OutputPerM: 15.00},
	"claude-haiku-4-5":  {InputPerM: 1.00, OutputPerM: 5.00},
	"grok-4":            {InputPerM: 3.00, OutputPerM: 15.00},
}

var defaultPrice = modelPrice{InputPerM: 3.00, OutputPerM: 15.00}

// CostUSD estimates the dollar cost of one call. Prefix matching tolerates
// dated model suffixes like -20250601.
func CostUSD(model string, usage Usage) float64 {
	price := defaultPrice
	model = strings.ToLower(strings.TrimSpace(model))
	if p, ok := modelPrices[model]; ok {
		price = p
	} else {
		for name, p := range modelPrices {
			if strings.HasPrefix(model, name) {
				price = p
				break
			}
		}
	}
	return float64(usage.InputTokens)*price.InputPerM/1e6 +
		float64(usage.OutputTokens)*price.OutputPerM/1e6
}

// approximateUsage is used when a streaming response carries no usage block.
// Four characters per token is the usual rough cut.
func approximateUsage(req Request, output string) Usage {
	in := len(req.System)
	for _, m := range req.Messages {
		in += len(m.Content)
	}
	return Usage{
		InputTokens:  in / 4,
		OutputTokens: len(output) / 4,
	}
}
