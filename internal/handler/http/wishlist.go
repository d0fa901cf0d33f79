package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/utafrali/wishlist-sync/internal/domain"
	apperrors "github.com/utafrali/wishlist-sync/pkg/errors"
	"github.com/utafrali/wishlist-sync/pkg/httputil"
	"github.com/utafrali/wishlist-sync/pkg/middleware"
	"github.com/utafrali/wishlist-sync/pkg/pagination"
	"github.com/utafrali/wishlist-sync/pkg/validator"
)

// WishlistService is the service surface the handlers depend on.
type WishlistService interface {
	AddToWishlist(ctx context.Context, shop, customerID, productID string) (domain.MutationResult, error)
	RemoveFromWishlist(ctx context.Context, shop, customerID, productID string) (domain.MutationResult, error)
	ListWishlist(ctx context.Context, shop, customerID string) ([]string, error)
	GetWishlistPage(ctx context.Context, shop, customerID string, page pagination.Params) (pagination.Result[domain.WishlistItem], error)
	GetStats(ctx context.Context, shop string) domain.ShopAggregate
	ReconcileStats(ctx context.Context, shop string) (domain.ReconcileResult, error)
	GetDashboard(ctx context.Context, shop string) (domain.Dashboard, error)
	SeedTestData(ctx context.Context, shop string) (domain.ShopAggregate, error)
}

// StatsStreamer pushes a shop's stats over an upgraded connection.
type StatsStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, shop string, snapshot func(context.Context) domain.ShopAggregate)
}

// WishlistHandler handles HTTP requests for wishlist endpoints.
type WishlistHandler struct {
	service  WishlistService
	streamer StatsStreamer
	logger   *slog.Logger
}

// NewWishlistHandler creates a new wishlist HTTP handler.
func NewWishlistHandler(svc WishlistService, streamer StatsStreamer, logger *slog.Logger) *WishlistHandler {
	return &WishlistHandler{
		service:  svc,
		streamer: streamer,
		logger:   logger,
	}
}

// --- Request DTOs ---

// ItemRequest is the JSON body of add and remove. Ids are passed through
// untrimmed; the service normalizes them and enforces their length.
type ItemRequest struct {
	CustomerID string `json:"customerId" validate:"required,identifier"`
	ProductID  string `json:"productId" validate:"required,identifier"`
}

// --- Storefront handlers ---

// AddItem handles POST /api/v1/wishlist/items
func (h *WishlistHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.AddToWishlist(r.Context(), middleware.ShopFromContext(r.Context()), req.CustomerID, req.ProductID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// RemoveItem handles DELETE /api/v1/wishlist/items
func (h *WishlistHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.RemoveFromWishlist(r.Context(), middleware.ShopFromContext(r.Context()), req.CustomerID, req.ProductID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// ListItems handles GET /api/v1/wishlist/items?customerId=
func (h *WishlistHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customerId")
	if customerID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("customerId is required"), h.logger)
		return
	}

	ids, err := h.service.ListWishlist(r.Context(), middleware.ShopFromContext(r.Context()), customerID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, map[string]any{"wishlist": ids})
}

// GetPage handles GET /api/v1/wishlist/page?customerId=&page=&per_page=
func (h *WishlistHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customerId")
	if customerID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("customerId is required"), h.logger)
		return
	}

	page, err := h.service.GetWishlistPage(r.Context(), middleware.ShopFromContext(r.Context()), customerID, pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// --- Admin handlers ---

// GetStats handles GET /api/v1/admin/wishlist/stats. It never fails.
func (h *WishlistHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.service.GetStats(r.Context(), middleware.ShopFromContext(r.Context()))
	httputil.WriteData(w, http.StatusOK, stats)
}

// ReconcileStats handles POST /api/v1/admin/wishlist/stats/reconcile
func (h *WishlistHandler) ReconcileStats(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ReconcileStats(r.Context(), middleware.ShopFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// StreamStats handles GET /api/v1/admin/wishlist/stats/stream
func (h *WishlistHandler) StreamStats(w http.ResponseWriter, r *http.Request) {
	shop := middleware.ShopFromContext(r.Context())
	h.streamer.Serve(w, r, shop, func(ctx context.Context) domain.ShopAggregate {
		return h.service.GetStats(ctx, shop)
	})
}

// GetDashboard handles GET /api/v1/admin/wishlist/dashboard
func (h *WishlistHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.service.GetDashboard(r.Context(), middleware.ShopFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, dashboard)
}

// Seed handles POST /api/v1/admin/wishlist/seed
func (h *WishlistHandler) Seed(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.SeedTestData(r.Context(), middleware.ShopFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, stats)
}
