package model

import (
	"fmt"
	"strings"
)

// Asset is a tradable commodity type drawn from a closed set.
type Asset string

// Supported asset types.
const (
	AssetSolar   Asset = "solar"
	AssetWind    Asset = "wind"
	AssetHydro   Asset = "hydro"
	AssetBiomass Asset = "biomass"
)

var validAssets = map[Asset]bool{
	AssetSolar:   true,
	AssetWind:    true,
	AssetHydro:   true,
	AssetBiomass: true,
}

// Assets returns the closed asset set in a stable order.
func Assets() []Asset {
	return []Asset{AssetSolar, AssetWind, AssetHydro, AssetBiomass}
}

// Valid reports whether a belongs to the closed asset set.
func (a Asset) Valid() bool {
	return validAssets[a]
}

// ParseAsset normalizes and validates an asset name. Unknown names are
// rejected, never defaulted.
func ParseAsset(s string) (Asset, error) {
	a := Asset(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown asset type %q", ErrInvalidAmount, s)
	}
	return a, nil
}

// ParseAssets validates a list of asset names.
func ParseAssets(names []string) ([]Asset, error) {
	out := make([]Asset, 0, len(names))
	for _, n := range names {
		a, err := ParseAsset(n)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
