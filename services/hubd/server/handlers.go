package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"randhub/native/vrfhub"
	"randhub/services/hubd/journal"
)

const maxBodyBytes = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func parseHash(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	decoded, err := hexutil.Decode(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash %q", raw)
	}
	if len(decoded) != common.HashLength {
		return common.Hash{}, fmt.Errorf("hash must be %d bytes", common.HashLength)
	}
	return common.BytesToHash(decoded), nil
}

func chainParam(r *http.Request) (vrfhub.ChainID, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chain id")
	}
	return vrfhub.ChainID(id), nil
}

func addressParam(r *http.Request) (common.Address, error) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address")
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vrfhub.ErrInvalidAmount, err)
	}
	return v, nil
}

// --- relayer ---

type inboundRequest struct {
	OriginChain vrfhub.ChainID `json:"originChain"`
	OriginPeer  common.Hash    `json:"originPeer"`
	Payload     hexutil.Bytes  `json:"payload"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.hub.Receive(r.Context(), vrfhub.InboundMessage{
		OriginChain: req.OriginChain,
		OriginPeer:  req.OriginPeer,
		Payload:     req.Payload,
	})
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requestId": id})
}

// --- provider ---

type fulfillRequest struct {
	RequestID   common.Hash   `json:"requestId"`
	RandomWords []common.Hash `json:"randomWords"`
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.hub.Fulfill(r.Context(), req.RequestID, req.RandomWords)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- local callers ---

func (s *Server) handleLocalRequestCreate(w http.ResponseWriter, r *http.Request) {
	caller, err := SubjectAddress(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := s.hub.RequestRandomLocal(r.Context(), caller)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"requestId": id})
}

func (s *Server) handleLocalRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := s.hub.LocalRequest(id)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLocalHistory(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := s.hub.LocalHistory(addr)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": history})
}

// --- public reads ---

type requestView struct {
	ID          common.Hash  `json:"requestId"`
	Origin      string       `json:"origin"`
	Local       bool         `json:"local"`
	Fulfilled   bool         `json:"fulfilled"`
	Delivered   bool         `json:"delivered"`
	RandomValue *common.Hash `json:"randomValue,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	FulfilledAt *time.Time   `json:"fulfilledAt,omitempty"`
}

func viewOf(req *vrfhub.Request) requestView {
	view := requestView{
		ID:        req.ID,
		Origin:    req.Origin.String(),
		Local:     req.IsLocal(),
		Fulfilled: req.Fulfilled,
		Delivered: req.Delivered,
		CreatedAt: req.CreatedAt,
	}
	if req.Fulfilled {
		value := req.RandomValue
		at := req.FulfilledAt
		view.RandomValue = &value
		view.FulfilledAt = &at
	}
	return view
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.hub.Request(id)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(req))
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	chains, err := s.hub.Chains()
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chains})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	chain, err := chainParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fee, err := s.hub.QuoteSendToChain(r.Context(), chain)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chainId":   chain,
		"fee":       fee.Dec(),
		"gasBudget": s.hub.GasBudget(chain),
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	chains, err := s.hub.ChainPrices()
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	resp := map[string]any{"chains": chains}
	local, ok, err := s.hub.LocalPrice()
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	if ok {
		resp["local"] = local
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	price, count := s.hub.AggregatedPrice()
	if price == nil {
		price = new(big.Int)
	}
	writeJSON(w, http.StatusOK, map[string]any{"price": price.String(), "count": count})
}

func (s *Server) handleSolvency(w http.ResponseWriter, r *http.Request) {
	solvency, err := s.hub.Solvency()
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, solvency)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.hub.Stats()
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.hub.PendingResponses()
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence")
		return
	}
	receipt, err := s.hub.RetryPendingResponse(r.Context(), seq)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	q := journal.Query{
		Type:      r.URL.Query().Get("type"),
		RequestID: r.URL.Query().Get("requestId"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}
	entries, err := s.journal.Recent(r.Context(), q)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

// --- admin ---

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.hub.Stats()
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	solvency, err := s.hub.Solvency()
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	price, count := s.hub.AggregatedPrice()
	resp := map[string]any{
		"stats":    stats,
		"solvency": solvency,
		"aggregate": map[string]any{
			"price": price.String(),
			"count": count,
		},
	}
	if s.stream != nil {
		resp["subscribers"] = s.stream.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}

type chainRequest struct {
	Name      string      `json:"name"`
	Peer      common.Hash `json:"peer"`
	GasBudget uint64      `json:"gasBudget"`
	Enabled   *bool       `json:"enabled"`
}

func (s *Server) handleAdminPutChain(w http.ResponseWriter, r *http.Request) {
	chain, err := chainParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req chainRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry := vrfhub.SupportedChain{
		ID:        chain,
		Name:      req.Name,
		Peer:      req.Peer,
		GasBudget: req.GasBudget,
		Enabled:   req.Enabled == nil || *req.Enabled,
	}
	if err := s.hub.AddChain(entry); err != nil {
		s.writeHubError(w, r, err)
		return
	}
	stored, _, err := s.hub.Chain(chain)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleAdminDeleteChain(w http.ResponseWriter, r *http.Request) {
	chain, err := chainParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.hub.RemoveChain(chain); err != nil {
		if errors.Is(err, vrfhub.ErrUnsupportedChain) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeHubError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminSetPeerEnabled(w http.ResponseWriter, r *http.Request) {
	chain, err := chainParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.hub.SetPeerEnabled(chain, req.Enabled); err != nil {
		if errors.Is(err, vrfhub.ErrUnsupportedChain) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chainId": chain, "enabled": req.Enabled})
}

func (s *Server) handleAdminCallers(w http.ResponseWriter, r *http.Request) {
	callers, err := s.hub.AuthorizedCallers()
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"callers": callers})
}

func (s *Server) handleAdminAuthorize(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		CallbackURL string `json:"callbackUrl"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	caller := vrfhub.AuthorizedCaller{Address: addr, CallbackURL: strings.TrimSpace(req.CallbackURL)}
	if err := s.hub.AuthorizeCaller(caller); err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, caller)
}

func (s *Server) handleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.hub.RevokeCaller(addr); err != nil {
		if errors.Is(err, vrfhub.ErrUnauthorizedCaller) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeHubError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminGasBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GasBudget uint64 `json:"gasBudget"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.hub.SetDefaultGasBudget(req.GasBudget); err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleAdminMinBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinBalance string `json:"minBalance"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	floor, err := parseAmount(req.MinBalance)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	if err := s.hub.SetMinBalance(floor); err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"minBalance": floor.Dec()})
}

func (s *Server) handleAdminFund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	balance, err := s.hub.Fund(amount)
	if err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.Dec()})
}

func (s *Server) handleAdminPause(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Pause(); err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleAdminResume(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Resume(); err != nil {
		s.writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleAdminRefreshPrice(w http.ResponseWriter, r *http.Request) {
	refreshed := s.hub.RefreshLocalPrice(r.Context())
	status := http.StatusOK
	if !refreshed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]bool{"refreshed": refreshed})
}
