package registry

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/podswap/internal/swap"
)

const assetList = `
[[asset]]
class    = "erc20"
token    = "0x00000000000000000000000000000000000000a1"
symbol   = "pUSD"
name     = "Pod USD"
decimals = 6

[[asset]]
class  = "erc721"
token  = "0x00000000000000000000000000000000000000a2"
symbol = "pNFT"

[[asset]]
class    = "ERC1155"
token    = "0x00000000000000000000000000000000000000a3"
symbol   = "pGAME"
`

var (
	usdToken   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	nftToken   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	otherToken = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func TestParseFile(t *testing.T) {
	assets, err := ParseFile([]byte(assetList))
	require.NoError(t, err)
	require.Len(t, assets, 3)

	assert.Equal(t, swap.ClassERC20, assets[0].Class)
	assert.Equal(t, usdToken, assets[0].Token)
	assert.Equal(t, int32(6), assets[0].Decimals)
	assert.Equal(t, swap.ClassERC1155, assets[2].Class)
}

func TestParseFile_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad class":     "[[asset]]\nclass='erc999'\ntoken='0x00000000000000000000000000000000000000a1'\nsymbol='X'",
		"bad token":     "[[asset]]\nclass='erc20'\ntoken='nope'\nsymbol='X'",
		"no symbol":     "[[asset]]\nclass='erc20'\ntoken='0x00000000000000000000000000000000000000a1'",
		"nft decimals":  "[[asset]]\nclass='erc721'\ntoken='0x00000000000000000000000000000000000000a1'\nsymbol='X'\ndecimals=2",
		"invalid toml":  "[[asset]\nclass=",
		"huge decimals": "[[asset]]\nclass='erc20'\ntoken='0x00000000000000000000000000000000000000a1'\nsymbol='X'\ndecimals=99",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFile([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_SkipsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assets.toml")
	require.NoError(t, os.WriteFile(path, []byte(assetList), 0o600))

	reg := New(NewMemoryStore())
	ctx := context.Background()

	n, err := LoadFile(ctx, reg, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = LoadFile(ctx, reg, path)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = LoadFile(ctx, reg, filepath.Join(dir, "assets.json"))
	assert.Error(t, err)
}

func TestRegistry_IsRegistered(t *testing.T) {
	reg := New(NewMemoryStore())
	ctx := context.Background()

	ok, err := reg.IsRegistered(ctx, swap.ClassERC20, otherToken)
	require.NoError(t, err)
	assert.True(t, ok, "empty registry accepts every token")

	require.NoError(t, reg.Register(ctx, &Asset{Class: swap.ClassERC20, Token: usdToken, Symbol: "pUSD", Decimals: 6}))

	ok, _ = reg.IsRegistered(ctx, swap.ClassERC20, usdToken)
	assert.True(t, ok)
	ok, _ = reg.IsRegistered(ctx, swap.ClassERC20, otherToken)
	assert.False(t, ok)
	ok, _ = reg.IsRegistered(ctx, swap.ClassERC1155, usdToken)
	assert.False(t, ok, "registration is per class")
}

func TestAsset_Amounts(t *testing.T) {
	a := &Asset{Class: swap.ClassERC20, Token: usdToken, Symbol: "pUSD", Decimals: 6}

	assert.Equal(t, "1.5", a.FormatAmount(big.NewInt(1_500_000)))
	assert.Equal(t, "0.000001", a.FormatAmount(big.NewInt(1)))

	v, err := a.ParseAmount("2.25")
	require.NoError(t, err)
	assert.Equal(t, int64(2_250_000), v.Int64())

	_, err = a.ParseAmount("0.0000001")
	assert.Error(t, err, "more precision than the token supports")
	_, err = a.ParseAmount("-1")
	assert.Error(t, err)
}

func TestHandler_ListAssets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := New(NewMemoryStore())
	assets, err := ParseFile([]byte(assetList))
	require.NoError(t, err)
	for _, a := range assets {
		require.NoError(t, reg.Register(context.Background(), a))
	}

	r := gin.New()
	NewHandler(reg).RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/assets/erc721", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Assets []Asset `json:"assets"`
		Count  int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, nftToken, resp.Assets[0].Token)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/assets/erc9", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
