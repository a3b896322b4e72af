package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"

	"github.com/mbd888/podswap/internal/swap"
)

// File is the on-disk layout of an asset list:
//
//	[[asset]]
//	class    = "erc20"
//	token    = "0x..."
//	symbol   = "pUSD"
//	name     = "Pod USD"
//	decimals = 18
type File struct {
	Assets []FileAsset `toml:"asset"`
}

// FileAsset is one [[asset]] table.
type FileAsset struct {
	Class    string `toml:"class"`
	Token    string `toml:"token"`
	Symbol   string `toml:"symbol"`
	Name     string `toml:"name"`
	Decimals int32  `toml:"decimals"`
}

// ParseFile decodes a TOML asset list.
func ParseFile(data []byte) ([]*Asset, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse TOML asset list: %w", err)
	}

	assets := make([]*Asset, 0, len(f.Assets))
	for i, fa := range f.Assets {
		class, err := swap.ParseClass(fa.Class)
		if err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
		if !common.IsHexAddress(fa.Token) {
			return nil, fmt.Errorf("asset %d: token %q is not an address", i, fa.Token)
		}
		a := &Asset{
			Class:    class,
			Token:    common.HexToAddress(fa.Token),
			Symbol:   strings.TrimSpace(fa.Symbol),
			Name:     strings.TrimSpace(fa.Name),
			Decimals: fa.Decimals,
		}
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// LoadFile reads a TOML asset list and registers every entry. Assets that
// are already registered are skipped. It returns the number added.
func LoadFile(ctx context.Context, r *Registry, path string) (int, error) {
	if !strings.HasSuffix(path, ".toml") {
		return 0, fmt.Errorf("asset list must be a toml file")
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return 0, fmt.Errorf("failed to read asset list: %w", err)
	}
	assets, err := ParseFile(data)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, a := range assets {
		if err := r.Register(ctx, a); err != nil {
			if errors.Is(err, ErrAssetExists) {
				continue
			}
			return added, fmt.Errorf("register %s: %w", a.Symbol, err)
		}
		added++
	}
	return added, nil
}
