// Package httpapi exposes the coin wallet over HTTP using gin.
//
// Routes are mounted under a configurable base path (default "/coins")
// and mirror the wallet facade: execute a paid action, read a balance,
// preview affordability, top up, and inspect transactions.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	coins "github.com/xraph/coins"
	"github.com/xraph/coins/action"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/reservation"
	"github.com/xraph/coins/types"
)

// Handler serves the wallet HTTP API.
type Handler struct {
	wallet *coins.Wallet
	logger *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New creates a Handler for the given wallet.
func New(w *coins.Wallet, opts ...Option) *Handler {
	h := &Handler{
		wallet: w,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the wallet routes under basePath. An empty basePath
// defaults to "/coins".
func (h *Handler) Register(r gin.IRouter, basePath string) {
	if basePath == "" {
		basePath = "/coins"
	}

	g := r.Group(basePath)
	g.POST("/execute", h.Execute)
	g.POST("/balances", h.CreateBalance)
	g.GET("/balances/:user_id", h.Balance)
	g.POST("/balances/:user_id/topup", h.TopUp)
	g.GET("/balances/:user_id/afford", h.CanAfford)
	g.GET("/transactions/:transaction_id", h.Transaction)
	g.GET("/balances/:user_id/transactions", h.Transactions)
}

// ──────────────────────────────────────────────────
// Requests
// ──────────────────────────────────────────────────

type executeRequest struct {
	UserID        string        `json:"user_id" binding:"required"`
	ResumeID      string        `json:"resume_id"`
	Kind          string        `json:"kind" binding:"required"`
	Params        action.Params `json:"params"`
	TransactionID string        `json:"transaction_id"`
}

type createBalanceRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Initial int64  `json:"initial"`
}

type topUpRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// ──────────────────────────────────────────────────
// Handlers
// ──────────────────────────────────────────────────

// Execute runs a paid action end to end.
func (h *Handler) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := action.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var txnID id.TransactionID
	if req.TransactionID != "" {
		txnID, err = id.ParseTransactionID(req.TransactionID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.wallet.Execute(c.Request.Context(), coins.ExecuteRequest{
		UserID:        req.UserID,
		ResumeID:      req.ResumeID,
		Kind:          kind,
		Params:        req.Params,
		TransactionID: txnID,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Balance returns a user's current coin balance.
func (h *Handler) Balance(c *gin.Context) {
	amount, err := h.wallet.Balance(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": c.Param("user_id"),
		"balance": amount,
	})
}

// CreateBalance provisions a balance with an initial amount.
func (h *Handler) CreateBalance(c *gin.Context) {
	var req createBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := h.wallet.CreateBalance(c.Request.Context(), req.UserID, types.Coins(req.Initial))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id": req.UserID,
		"balance": amount,
	})
}

// TopUp credits coins to a balance.
func (h *Handler) TopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := h.wallet.TopUp(c.Request.Context(), c.Param("user_id"), types.Coins(req.Amount))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": c.Param("user_id"),
		"balance": amount,
	})
}

// CanAfford prices an action from query parameters and reports whether
// the user's balance covers it.
func (h *Handler) CanAfford(c *gin.Context) {
	kind, err := action.ParseKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := action.Params{
		TemplateID:     c.Query("template_id"),
		TargetLanguage: c.Query("target_language"),
	}
	if raw := c.Query("word_count"); raw != "" {
		words, convErr := strconv.Atoi(raw)
		if convErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "word_count must be an integer"})
			return
		}
		params.WordCount = words
	}

	ok, cost, err := h.wallet.CanAfford(c.Request.Context(), c.Param("user_id"), kind, params)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    c.Param("user_id"),
		"kind":       string(kind),
		"cost":       cost,
		"affordable": ok,
	})
}

// Transaction returns the ledger row for a transaction id.
func (h *Handler) Transaction(c *gin.Context) {
	txnID, err := id.ParseTransactionID(c.Param("transaction_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.wallet.Reservation(c.Request.Context(), txnID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Transactions lists a user's transactions, newest first.
func (h *Handler) Transactions(c *gin.Context) {
	opts := reservation.ListOpts{
		Status: reservation.Status(c.Query("status")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		opts.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
			return
		}
		opts.Offset = offset
	}

	list, err := h.wallet.History(c.Request.Context(), c.Param("user_id"), opts)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

// ──────────────────────────────────────────────────
// Error rendering
// ──────────────────────────────────────────────────

// renderError maps wallet errors onto HTTP status codes.
func (h *Handler) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var vErr coins.ValidationError
	var extErr *coins.ExternalError

	switch {
	case errors.As(err, &vErr), errors.Is(err, coins.ErrUnknownAction),
		errors.Is(err, coins.ErrInvalidInput), errors.Is(err, coins.ErrNoExecutor):
		status = http.StatusBadRequest
	case errors.Is(err, coins.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case coins.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, coins.ErrDuplicateTransaction),
		errors.Is(err, coins.ErrBalanceExists),
		errors.Is(err, coins.ErrConflict):
		status = http.StatusConflict
	case errors.As(err, &extErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}

	body := gin.H{"error": err.Error()}
	if extErr != nil {
		body["refunded"] = extErr.Refunded
	}
	c.JSON(status, body)
}
