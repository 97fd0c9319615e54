package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radieske/auction-platform-poc/internal/bid-service/dto"
	"github.com/radieske/auction-platform-poc/internal/bid-service/engine"
	"github.com/radieske/auction-platform-poc/internal/bid-service/repo"
	"github.com/radieske/auction-platform-poc/internal/bid-service/service"
	"github.com/radieske/auction-platform-poc/internal/shared/lock"
)

const defaultHistoryLimit = 50

// BidService é a fatia do serviço que a API consome.
type BidService interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amountCents int64, idemKey string) (dto.PlaceBidResponse, error)
	SetProxyBid(ctx context.Context, auctionID, bidderID string, maxAmountCents int64) (dto.ProxyBidResponse, error)
	CancelProxyBid(ctx context.Context, auctionID, bidderID string) error
	GetAuction(ctx context.Context, auctionID string) (dto.AuctionResponse, error)
	BidHistory(ctx context.Context, auctionID string, limit int) ([]dto.BidView, error)
}

// AdminCloser encerra um leilão fora da agenda (force-close).
type AdminCloser interface {
	CloseOne(ctx context.Context, auctionID string, force bool) (repo.CloseResult, error)
}

// API expõe os endpoints REST do serviço de lances.
type API struct {
	Log        *zap.Logger
	Svc        BidService
	Admin      AdminCloser
	AdminToken string
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/auctions/{id}", a.getAuction)
	r.Get("/v1/auctions/{id}/bids", a.bidHistory)
	r.Post("/v1/auctions/{id}/bids", a.placeBid)
	r.Put("/v1/auctions/{id}/proxy-bid", a.setProxyBid)
	r.Delete("/v1/auctions/{id}/proxy-bid", a.cancelProxyBid)
	r.Post("/v1/admin/auctions/{id}/close", a.forceClose)
	return r
}

// ID do bidder vem do header de sessão injetado pelo gateway.
func bidderID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) placeBid(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "id")
	bidder := bidderID(r)
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID required")
		return
	}

	var req dto.PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	resp, err := a.Svc.PlaceBid(r.Context(), auctionID, bidder, req.AmountCents, req.IdempotencyKey)
	if err != nil {
		a.writeBidError(w, auctionID, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) setProxyBid(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "id")
	bidder := bidderID(r)
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID required")
		return
	}

	var req dto.SetProxyBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	resp, err := a.Svc.SetProxyBid(r.Context(), auctionID, bidder, req.MaxAmountCents)
	if err != nil {
		a.writeBidError(w, auctionID, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) cancelProxyBid(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "id")
	bidder := bidderID(r)
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID required")
		return
	}

	if err := a.Svc.CancelProxyBid(r.Context(), auctionID, bidder); err != nil {
		a.writeBidError(w, auctionID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "id")

	resp, err := a.Svc.GetAuction(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, repo.ErrAuctionNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		a.Log.Error("get auction failed", zap.String("auctionId", auctionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) bidHistory(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "id")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	bids, err := a.Svc.BidHistory(r.Context(), auctionID, limit)
	if err != nil {
		a.Log.Error("bid history failed", zap.String("auctionId", auctionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if bids == nil {
		bids = []dto.BidView{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// forceClose encerra o leilão imediatamente, ignorando o end_time.
// Protegido por token administrativo.
func (a *API) forceClose(w http.ResponseWriter, r *http.Request) {
	if a.AdminToken == "" || r.Header.Get("X-Admin-Token") != a.AdminToken {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	auctionID := chi.URLParam(r, "id")

	res, err := a.Admin.CloseOne(r.Context(), auctionID, true)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrAuctionNotFound):
			writeError(w, http.StatusNotFound, "auction not found")
		case errors.Is(err, repo.ErrNotActive):
			writeError(w, http.StatusConflict, "auction already closed")
		case errors.Is(err, lock.ErrNotAcquired):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "auction busy, retry")
		default:
			a.Log.Error("force close failed", zap.String("auctionId", auctionID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, dto.CloseAuctionResponse{
		AuctionID:       res.AuctionID,
		Result:          res.Result,
		WinnerID:        res.WinnerID,
		FinalPriceCents: res.FinalPriceCents,
	})
}

// writeBidError traduz os sentinelas do fluxo de lance para HTTP.
func (a *API) writeBidError(w http.ResponseWriter, auctionID string, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrBidTooLow):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrSellerBid),
		errors.Is(err, engine.ErrAuctionEnded),
		errors.Is(err, engine.ErrAuctionNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repo.ErrAuctionNotFound):
		writeError(w, http.StatusNotFound, "auction not found")
	case errors.Is(err, service.ErrRateLimited),
		errors.Is(err, service.ErrLockBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, service.ErrDuplicateInFlight):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repo.ErrVersionConflict):
		writeError(w, http.StatusServiceUnavailable, "transient conflict, retry")
	default:
		a.Log.Error("bid request failed", zap.String("auctionId", auctionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
