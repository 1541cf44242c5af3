// Package httpapi exposes the auction house over HTTP with JSON bodies.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/auction/commitment"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/house"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/ledger"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/store"
	"github.com/textileio/auctionhouse/cmd/common"
	golog "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodySize = 1 << 20

var log = golog.Logger("auctionhouse/httpapi")

// errForbidden is returned when the caller acts on another party's account.
var errForbidden = errors.New("caller can't act on this account")

// House is the auction house API served over HTTP.
type House interface {
	Now() time.Time
	CreateOpenAuction(ctx context.Context, p auction.OpenParams) (*store.Record, error)
	CreateSealedAuction(ctx context.Context, p auction.SealedParams) (*store.Record, error)
	CancelAuction(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error)
	Bid(ctx context.Context, id auction.ID, bidder auction.PartyID, amount uint64) (*store.Record, error)
	CommitBid(
		ctx context.Context,
		id auction.ID,
		bidder auction.PartyID,
		digest commitment.Digest,
		cover uint64) (*store.Record, error)
	RevealBid(ctx context.Context, id auction.ID, bidder auction.PartyID, value, nonce uint64) (*store.Record, error)
	ReclaimBid(ctx context.Context, id auction.ID, bidder auction.PartyID) (*store.Record, error)
	WithdrawItem(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error)
	WithdrawWinningBid(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error)
	ReclaimItem(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error)
	GetAuction(ctx context.Context, id auction.ID) (*store.Record, error)
	ListAuctions(ctx context.Context, q store.Query) ([]store.Record, error)
	Deposit(ctx context.Context, p auction.PartyID, amount uint64) error
	DepositItem(ctx context.Context, p auction.PartyID, itemRef string, qty uint64) error
	Account(ctx context.Context, p auction.PartyID) (ledger.Account, error)
	Holding(ctx context.Context, id auction.ID) (ledger.Holding, error)
}

var _ House = (*house.House)(nil)

// NewServer starts serving h at listenAddr.
func NewServer(listenAddr string, h House, auth Authenticator) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:              listenAddr,
		ReadHeaderTimeout: time.Second * 5,
		WriteTimeout:      time.Second * 30,
		Handler:           NewHandler(h, auth),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

// NewHandler returns the instrumented API handler.
func NewHandler(h House, auth Authenticator) http.Handler {
	return otelhttp.NewHandler(common.LoggerMiddleware(log, createMux(h, auth)), "auctionhoused")
}

type api struct {
	house     House
	auth      Authenticator
	mutations map[string]mutation
}

func newAPI(h House, auth Authenticator) *api {
	a := &api{house: h, auth: auth}
	a.mutations = a.newMutations()
	return a
}

func createMux(h House, auth Authenticator) *http.ServeMux {
	a := newAPI(h, auth)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	// allow both with and without trailing slash
	mux.HandleFunc("/auctions", a.auctionsHandler)
	mux.HandleFunc("/auctions/", a.auctionsHandler)
	mux.HandleFunc("/accounts/", a.accountsHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type mutation func(ctx context.Context, id auction.ID, caller auction.PartyID, r *http.Request) (*store.Record, error)

func (a *api) auctionsHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/auctions")
	switch {
	case len(parts) == 0:
		if !method(w, r, http.MethodGet) {
			return
		}
		a.listAuctions(w, r)
	case len(parts) == 1 && (parts[0] == "open" || parts[0] == "sealed"):
		if !method(w, r, http.MethodPost) {
			return
		}
		a.createAuction(w, r, parts[0])
	case len(parts) == 1:
		if !method(w, r, http.MethodGet) {
			return
		}
		a.getAuction(w, r, auction.ID(parts[0]))
	case len(parts) == 2 && parts[1] == "escrow":
		if !method(w, r, http.MethodGet) {
			return
		}
		a.getEscrow(w, r, auction.ID(parts[0]))
	case len(parts) == 2:
		m, ok := a.mutations[parts[1]]
		if !ok {
			writeError(w, fmt.Errorf("unknown operation %q", parts[1]), http.StatusNotFound)
			return
		}
		if !method(w, r, http.MethodPost) {
			return
		}
		a.mutate(w, r, auction.ID(parts[0]), m)
	default:
		writeError(w, errors.New("not found"), http.StatusNotFound)
	}
}

func (a *api) newMutations() map[string]mutation {
	return map[string]mutation{
		"cancel": func(ctx context.Context, id auction.ID, caller auction.PartyID, _ *http.Request) (*store.Record, error) {
			return a.house.CancelAuction(ctx, id, caller)
		},
		"bid": func(ctx context.Context, id auction.ID, caller auction.PartyID, r *http.Request) (*store.Record, error) {
			var req BidRequest
			if err := decode(r, &req); err != nil {
				return nil, err
			}
			return a.house.Bid(ctx, id, caller, req.Amount)
		},
		"commit": func(ctx context.Context, id auction.ID, caller auction.PartyID, r *http.Request) (*store.Record, error) {
			var req CommitRequest
			if err := decode(r, &req); err != nil {
				return nil, err
			}
			return a.house.CommitBid(ctx, id, caller, req.Commitment, req.Cover)
		},
		"reveal": func(ctx context.Context, id auction.ID, caller auction.PartyID, r *http.Request) (*store.Record, error) {
			var req RevealRequest
			if err := decode(r, &req); err != nil {
				return nil, err
			}
			return a.house.RevealBid(ctx, id, caller, req.Value, req.Nonce)
		},
		"reclaim-bid": func(ctx context.Context, id auction.ID, caller auction.PartyID, _ *http.Request) (*store.Record, error) {
			return a.house.ReclaimBid(ctx, id, caller)
		},
		"withdraw-item": func(ctx context.Context, id auction.ID, caller auction.PartyID, _ *http.Request) (*store.Record, error) {
			return a.house.WithdrawItem(ctx, id, caller)
		},
		"withdraw-winning-bid": func(ctx context.Context, id auction.ID, caller auction.PartyID, _ *http.Request) (*store.Record, error) {
			return a.house.WithdrawWinningBid(ctx, id, caller)
		},
		"reclaim-item": func(ctx context.Context, id auction.ID, caller auction.PartyID, _ *http.Request) (*store.Record, error) {
			return a.house.ReclaimItem(ctx, id, caller)
		},
	}
}

func (a *api) mutate(w http.ResponseWriter, r *http.Request, id auction.ID, m mutation) {
	caller, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	rec, err := m(r.Context(), id, caller, r)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, auctionView(rec, a.house.Now()))
}

func (a *api) createAuction(w http.ResponseWriter, r *http.Request, kind string) {
	owner, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	var req CreateAuctionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	var (
		rec *store.Record
		err error
	)
	if kind == "open" {
		rec, err = a.house.CreateOpenAuction(r.Context(), auction.OpenParams{
			CreateParams:    req.createParams(owner),
			MinBidIncrement: req.MinBidIncrement,
		})
	} else {
		rec, err = a.house.CreateSealedAuction(r.Context(), auction.SealedParams{
			CreateParams:   req.createParams(owner),
			RevealDeadline: req.RevealDeadline,
			FirstPrice:     req.FirstPrice,
			Hash:           req.Hash,
		})
	}
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, auctionView(rec, a.house.Now()))
}

func (a *api) getAuction(w http.ResponseWriter, r *http.Request, id auction.ID) {
	rec, err := a.house.GetAuction(r.Context(), id)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, auctionView(rec, a.house.Now()))
}

func (a *api) listAuctions(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	recs, err := a.house.ListAuctions(r.Context(), q)
	if err != nil {
		writeError(w, fmt.Errorf("listing auctions: %s", err), http.StatusInternalServerError)
		return
	}
	now := a.house.Now()
	views := make([]Auction, len(recs))
	for i := range recs {
		views[i] = auctionView(&recs[i], now)
	}
	writeJSON(w, http.StatusOK, views)
}

func parseQuery(r *http.Request) (store.Query, error) {
	var q store.Query
	vals := r.URL.Query()
	q.Offset = vals.Get("offset")
	if v := vals.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return q, fmt.Errorf("parsing limit: %s", err)
		}
		q.Limit = limit
	}
	switch vals.Get("order") {
	case "", "desc":
		q.Order = store.OrderDescending
	case "asc":
		q.Order = store.OrderAscending
	default:
		return q, fmt.Errorf("unknown order %q", vals.Get("order"))
	}
	if v := vals.Get("kind"); v != "" {
		kind, err := auction.KindByString(v)
		if err != nil {
			return q, err
		}
		q.Kind = &kind
	}
	return q, nil
}

func (a *api) getEscrow(w http.ResponseWriter, r *http.Request, id auction.ID) {
	h, err := a.house.Holding(r.Context(), id)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, Escrow{AuctionID: id, Currency: h.Currency, ItemQty: h.ItemQty})
}

func (a *api) accountsHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/accounts")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, errors.New("not found"), http.StatusNotFound)
		return
	}
	party, err := auction.ParsePartyID(parts[0])
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	caller, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	if caller != party {
		writeError(w, errForbidden, http.StatusForbidden)
		return
	}

	if len(parts) == 1 {
		if !method(w, r, http.MethodGet) {
			return
		}
		acc, err := a.house.Account(r.Context(), party)
		if err != nil {
			writeError(w, err, statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, accountView(acc))
		return
	}

	if !method(w, r, http.MethodPost) {
		return
	}
	var req DepositRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	switch parts[1] {
	case "deposit":
		err = a.house.Deposit(r.Context(), party, req.Amount)
	case "deposit-item":
		err = a.house.DepositItem(r.Context(), party, req.ItemRef, req.Qty)
	default:
		writeError(w, fmt.Errorf("unknown operation %q", parts[1]), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	acc, err := a.house.Account(r.Context(), party)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, accountView(acc))
}

func (a *api) authenticate(w http.ResponseWriter, r *http.Request) (auction.PartyID, bool) {
	p, err := a.auth.Authenticate(r)
	if err != nil {
		writeError(w, err, http.StatusUnauthorized)
		return p, false
	}
	return p, true
}

// statusFor maps an operation error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrAuctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientItems):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrZeroAmount), errors.Is(err, house.ErrWrongKind):
		return http.StatusBadRequest
	case errors.Is(err, auction.ErrNotOwner),
		errors.Is(err, auction.ErrNotHighestBidder),
		errors.Is(err, auction.ErrOwnerCannotBid):
		return http.StatusForbidden
	}
	switch auction.KindOf(err) {
	case auction.KindValidation:
		return http.StatusBadRequest
	case auction.KindTiming, auction.KindCapacity, auction.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func method(w http.ResponseWriter, r *http.Request, m string) bool {
	if r.Method != m {
		w.Header().Set("Allow", m)
		writeError(w, fmt.Errorf("only %s method is allowed", m), http.StatusMethodNotAllowed)
		return false
	}
	return true
}

type badRequestError struct{ error }

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequestError{fmt.Errorf("decoding request body: %s", err)}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("writing response: %s", err)
	}
}

func writeError(w http.ResponseWriter, err error, status int) {
	var bad badRequestError
	if errors.As(err, &bad) {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		log.Errorf("request error: %s", err)
	} else {
		log.Debugf("request refused: %s", err)
	}
	body := Error{Error: err.Error()}
	if code := auction.CodeOf(err); code != "" {
		body.Code = code
		body.Kind = auction.KindOf(err).String()
	}
	writeJSON(w, status, body)
}
