package pods

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/podswap/internal/auth"
	"github.com/mbd888/podswap/internal/validation"
)

// Handler exposes the in-memory ledger for development flows: minting test
// tokens, granting approvals to the swap vault and reading balances.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a dev ledger handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up public ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/pods/erc20/mint", h.MintFungible)
	r.POST("/pods/erc721/mint", h.MintNonFungible)
	r.POST("/pods/erc1155/mint", h.MintMulti)
	r.GET("/pods/erc20/:token/balances/:address", h.FungibleBalance)
	r.GET("/pods/erc721/:token/owners/:id", h.OwnerOf)
	r.GET("/pods/erc1155/:token/balances/:address/:id", h.MultiBalance)
}

// RegisterProtectedRoutes sets up routes acting on the caller's tokens.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/pods/erc20/approve", h.ApproveFungible)
	r.POST("/pods/erc721/approve", h.ApproveNonFungible)
	r.POST("/pods/erc721/approval-for-all", h.SetApprovalForAll("erc721"))
	r.POST("/pods/erc1155/approval-for-all", h.SetApprovalForAll("erc1155"))
}

// TokenRequest is the body of mint and approve calls. Which integer fields
// apply depends on the token class.
type TokenRequest struct {
	Token    string `json:"token" binding:"required"`
	To       string `json:"to"`
	TokenID  string `json:"tokenId"`
	Amount   string `json:"amount"`
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

func (h *Handler) bind(c *gin.Context) (*TokenRequest, bool) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "token is required",
		})
		return nil, false
	}
	if !validation.Check(c,
		validation.ValidAddress("token", req.Token),
		validation.ValidAddress("to", req.To),
		validation.ValidAddress("operator", req.Operator),
		validation.ValidUint("tokenId", req.TokenID),
		validation.ValidUint("amount", req.Amount),
	) {
		return nil, false
	}
	return &req, true
}

func parseUint(s string) *big.Int {
	if s == "" {
		return nil
	}
	base := 10
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s, base = s[2:], 16
	}
	v, _ := new(big.Int).SetString(s, base)
	return v
}

// MintFungible handles POST /v1/pods/erc20/mint
func (h *Handler) MintFungible(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	token, to, amount := common.HexToAddress(req.Token), common.HexToAddress(req.To), parseUint(req.Amount)
	if amount == nil {
		amount = new(big.Int)
	}
	if err := h.ledger.ERC20.Mint(token, to, amount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "owner": to, "balance": h.ledger.ERC20.BalanceOf(token, to).String()})
}

// MintNonFungible handles POST /v1/pods/erc721/mint
func (h *Handler) MintNonFungible(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	id := parseUint(req.TokenID)
	if id == nil {
		writeError(c, ErrNonexistentToken)
		return
	}
	token, to := common.HexToAddress(req.Token), common.HexToAddress(req.To)
	if err := h.ledger.ERC721.Mint(token, to, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "tokenId": id.String(), "owner": to})
}

// MintMulti handles POST /v1/pods/erc1155/mint
func (h *Handler) MintMulti(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	id, amount := parseUint(req.TokenID), parseUint(req.Amount)
	if id == nil {
		id = new(big.Int)
	}
	if amount == nil {
		amount = new(big.Int)
	}
	token, to := common.HexToAddress(req.Token), common.HexToAddress(req.To)
	if err := h.ledger.ERC1155.Mint(token, to, id, amount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"tokenId": id.String(),
		"owner":   to,
		"balance": h.ledger.ERC1155.BalanceOf(token, to, id).String(),
	})
}

// ApproveFungible handles POST /v1/pods/erc20/approve. The caller is the owner.
func (h *Handler) ApproveFungible(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	req, ok := h.bind(c)
	if !ok {
		return
	}
	amount := parseUint(req.Amount)
	if amount == nil {
		amount = new(big.Int)
	}
	token, spender := common.HexToAddress(req.Token), common.HexToAddress(req.To)
	if err := h.ledger.ERC20.Approve(token, owner, spender, amount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"owner":     owner,
		"spender":   spender,
		"allowance": h.ledger.ERC20.Allowance(token, owner, spender).String(),
	})
}

// ApproveNonFungible handles POST /v1/pods/erc721/approve
func (h *Handler) ApproveNonFungible(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	req, ok := h.bind(c)
	if !ok {
		return
	}
	id := parseUint(req.TokenID)
	if id == nil {
		writeError(c, ErrNonexistentToken)
		return
	}
	token, to := common.HexToAddress(req.Token), common.HexToAddress(req.To)
	if err := h.ledger.ERC721.Approve(token, owner, to, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "tokenId": id.String(), "approved": h.ledger.ERC721.GetApproved(token, id)})
}

// SetApprovalForAll handles POST /v1/pods/{erc721,erc1155}/approval-for-all
func (h *Handler) SetApprovalForAll(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := caller(c)
		if !ok {
			return
		}
		req, ok := h.bind(c)
		if !ok {
			return
		}
		token, operator := common.HexToAddress(req.Token), common.HexToAddress(req.Operator)

		var err error
		if class == "erc721" {
			err = h.ledger.ERC721.SetApprovalForAll(token, owner, operator, req.Approved)
		} else {
			err = h.ledger.ERC1155.SetApprovalForAll(token, owner, operator, req.Approved)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "owner": owner, "operator": operator, "approved": req.Approved})
	}
}

// FungibleBalance handles GET /v1/pods/erc20/:token/balances/:address
func (h *Handler) FungibleBalance(c *gin.Context) {
	token, owner, ok := addressParams(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "owner": owner, "balance": h.ledger.ERC20.BalanceOf(token, owner).String()})
}

// OwnerOf handles GET /v1/pods/erc721/:token/owners/:id
func (h *Handler) OwnerOf(c *gin.Context) {
	token := c.Param("token")
	if !validation.IsValidEthAddress(token) || validation.ValidUint("id", c.Param("id"))() != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "token must be an address and id an integer"})
		return
	}
	id := parseUint(c.Param("id"))
	owner, err := h.ledger.ERC721.OwnerOf(common.HexToAddress(token), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": common.HexToAddress(token), "tokenId": id.String(), "owner": owner})
}

// MultiBalance handles GET /v1/pods/erc1155/:token/balances/:address/:id
func (h *Handler) MultiBalance(c *gin.Context) {
	token, owner, ok := addressParams(c)
	if !ok {
		return
	}
	if validation.ValidUint("id", c.Param("id"))() != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be an integer"})
		return
	}
	id := parseUint(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"owner":   owner,
		"tokenId": id.String(),
		"balance": h.ledger.ERC1155.BalanceOf(token, owner, id).String(),
	})
}

func addressParams(c *gin.Context) (common.Address, common.Address, bool) {
	token, owner := c.Param("token"), c.Param("address")
	if !validation.IsValidEthAddress(token) || !validation.IsValidEthAddress(owner) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "token and address must be valid Ethereum addresses",
		})
		return common.Address{}, common.Address{}, false
	}
	return common.HexToAddress(token), common.HexToAddress(owner), true
}

func caller(c *gin.Context) (common.Address, bool) {
	addr, ok := auth.GetCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Signed request required",
		})
	}
	return addr, ok
}

func writeError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, ErrNonexistentToken) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": "ledger_error", "message": err.Error()})
}
