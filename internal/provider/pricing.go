package provider

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelPrice is USD per million tokens.
type ModelPrice struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// Pricing maps model identifiers to token prices plus a flat per-image price.
// Lookup is exact first, then longest prefix, so dated snapshots
// ("claude-sonnet-4-5-20250929") inherit their family's price.
type Pricing struct {
	Models       map[string]ModelPrice `yaml:"models"`
	ImagePerUnit float64               `yaml:"image_per_unit"`
}

// DefaultPricing carries the prices current at build time. MODEL_PRICING_FILE
// overrides it with a yaml file of the same shape.
func DefaultPricing() *Pricing {
	return &Pricing{
		Models: map[string]ModelPrice{
			"claude-sonnet":   {InputPerMTok: 3.0, OutputPerMTok: 15.0},
			"claude-haiku":    {InputPerMTok: 0.8, OutputPerMTok: 4.0},
			"claude-opus":     {InputPerMTok: 15.0, OutputPerMTok: 75.0},
			"gpt-4o":          {InputPerMTok: 2.5, OutputPerMTok: 10.0},
			"gpt-4o-mini":     {InputPerMTok: 0.15, OutputPerMTok: 0.6},
			"gpt-image-1":     {InputPerMTok: 5.0, OutputPerMTok: 0},
			"dall-e-3":        {InputPerMTok: 0, OutputPerMTok: 0},
			"text-embedding-": {InputPerMTok: 0.02, OutputPerMTok: 0},
		},
		ImagePerUnit: 0.04,
	}
}

// LoadPricing reads a pricing table from path; empty path returns defaults.
func LoadPricing(path string) (*Pricing, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPricing(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	p := DefaultPricing()
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}
	if p.Models == nil {
		p.Models = DefaultPricing().Models
	}
	return p, nil
}

// TextCost prices one completion. Unknown models cost zero; the ledger still
// gets the token counts.
func (p *Pricing) TextCost(model string, inputTokens, outputTokens int) float64 {
	mp, ok := p.lookup(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*mp.InputPerMTok + float64(outputTokens)/1e6*mp.OutputPerMTok
}

// ImageCost prices one generated image.
func (p *Pricing) ImageCost() float64 {
	return p.ImagePerUnit
}

func (p *Pricing) lookup(model string) (ModelPrice, bool) {
	if mp, ok := p.Models[model]; ok {
		return mp, true
	}
	best := ""
	var found ModelPrice
	for prefix, mp := range p.Models {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			found = mp
		}
	}
	return found, best != ""
}
