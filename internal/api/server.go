package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"marketsim/internal/market"
)

// ActorProvisioner creates an actor's wallet on first contact. The Postgres
// store implements it; tests can leave it nil.
type ActorProvisioner interface {
	EnsureActor(ctx context.Context, actorID string) error
}

// Ticker is the admin surface onto the scheduler.
type Ticker interface {
	TickNow(ctx context.Context) error
}

type Server struct {
	log        *slog.Logger
	store      market.Store
	wallet     market.Wallet
	positions  market.Positions
	registry   *market.Registry
	pipeline   *market.Pipeline
	analytics  *market.Analytics
	influences *market.InfluenceModel
	threshold  *market.ThresholdController
	ticker     Ticker
	actors     ActorProvisioner
	mux        *chi.Mux
}

type Deps struct {
	Store      market.Store
	Wallet     market.Wallet
	Positions  market.Positions
	Registry   *market.Registry
	Pipeline   *market.Pipeline
	Analytics  *market.Analytics
	Influences *market.InfluenceModel
	Threshold  *market.ThresholdController
	Ticker     Ticker
	Actors     ActorProvisioner
}

func New(logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:        logger,
		store:      deps.Store,
		wallet:     deps.Wallet,
		positions:  deps.Positions,
		registry:   deps.Registry,
		pipeline:   deps.Pipeline,
		analytics:  deps.Analytics,
		influences: deps.Influences,
		threshold:  deps.Threshold,
		ticker:     deps.Ticker,
		actors:     deps.Actors,
		mux:        chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/instruments", s.handleInstrumentsList)
		r.Post("/instruments", s.handleInstrumentCreate)
		r.Get("/instruments/{symbol}", s.handleInstrumentDetail)
		r.Get("/instruments/{symbol}/history", s.handleInstrumentHistory)
		r.Get("/instruments/{symbol}/metrics", s.handleInstrumentMetrics)
		r.Get("/correlation", s.handleCorrelation)
		r.Get("/influence", s.handleInfluenceSnapshot)

		r.Post("/orders", s.handleOrder)
		r.Get("/wallet", s.handleWallet)
		r.Get("/positions/{symbol}", s.handlePosition)
		r.Get("/halts", s.handleHalts)

		r.Post("/admin/tick", s.handleAdminTick)
		r.Post("/admin/influence", s.handleAdminInfluence)
	})
}

func (s *Server) handleInstrumentsList(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.store.ListQuotes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	states := make(map[int64]market.InstrumentState, len(quotes))
	for _, q := range quotes {
		states[q.Instrument.ID] = q.State
	}
	// The registry snapshot fixes the ordering; states come from the store.
	out := make([]market.Quote, 0, len(quotes))
	for _, inst := range s.registry.List() {
		out = append(out, market.Quote{Instrument: inst, State: states[inst.ID]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out})
}

func (s *Server) handleInstrumentCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Symbol            string  `json:"symbol"`
		DisplayName       string  `json:"display_name"`
		Category          string  `json:"category"`
		VolatilityRating  float64 `json:"volatility_rating"`
		SharesOutstanding int64   `json:"shares_outstanding_units"`
		InitialPrice      float64 `json:"initial_price_credits"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inst, err := market.RegisterInstrument(r.Context(), s.store, s.registry, s.threshold, market.Instrument{
		Symbol:            in.Symbol,
		DisplayName:       in.DisplayName,
		Category:          in.Category,
		Precision:         2,
		VolatilityRating:  in.VolatilityRating,
		SharesOutstanding: in.SharesOutstanding,
		CreatedBy:         actorID(r),
	}, market.CreditsToMicros(in.InitialPrice))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleInstrumentDetail(w http.ResponseWriter, r *http.Request) {
	quote, err := s.store.GetQuote(r.Context(), symbolParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleInstrumentHistory(w http.ResponseWriter, r *http.Request) {
	quote, err := s.store.GetQuote(r.Context(), symbolParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	points, err := s.store.PriceHistory(r.Context(), quote.Instrument.ID, time.Now().Add(-window))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": quote.Instrument.Symbol, "points": points})
}

func (s *Server) handleInstrumentMetrics(w http.ResponseWriter, r *http.Request) {
	quote, err := s.store.GetQuote(r.Context(), symbolParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics, err := s.analytics.InstrumentMetrics(r.Context(), quote.Instrument.ID, time.Now())
	if err != nil && !errors.Is(err, market.ErrInsufficientSamples) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": quote.Instrument.Symbol, "metrics": metrics})
}

func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	qa, err := s.store.GetQuote(r.Context(), strings.ToUpper(r.URL.Query().Get("a")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	qb, err := s.store.GetQuote(r.Context(), strings.ToUpper(r.URL.Query().Get("b")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	corr, err := s.analytics.InstrumentCorrelation(r.Context(), qa.Instrument.ID, qb.Instrument.ID, time.Now())
	if err != nil && !errors.Is(err, market.ErrInsufficientSamples) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"a":           qa.Instrument.Symbol,
		"b":           qb.Instrument.Symbol,
		"correlation": corr,
	})
}

func (s *Server) handleInfluenceSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"factors":   s.influences.Snapshot(),
		"sentiment": s.influences.Sentiment(),
	})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header required")
		return
	}
	if s.actors != nil {
		if err := s.actors.EnsureActor(r.Context(), actor); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	var in market.OrderRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.ActorID = actor
	in.IdempotencyKey = idempotencyKey(r)

	result, err := s.pipeline.Execute(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header required")
		return
	}
	if s.actors != nil {
		if err := s.actors.EnsureActor(r.Context(), actor); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	balance, err := s.wallet.Balance(r.Context(), actor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actor_id":        actor,
		"balance_micros":  balance,
		"balance_credits": market.MicrosToCredits(balance),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header required")
		return
	}
	quote, err := s.store.GetQuote(r.Context(), symbolParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	qty, err := s.positions.Quantity(r.Context(), actor, quote.Instrument.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actor_id":       actor,
		"symbol":         quote.Instrument.Symbol,
		"quantity_units": qty,
		"shares":         market.UnitsToShares(qty),
	})
}

func (s *Server) handleHalts(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	halts, err := s.store.ListHalts(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type haltView struct {
		market.Halt
		Symbol string `json:"symbol,omitempty"`
	}
	out := make([]haltView, 0, len(halts))
	for _, h := range halts {
		v := haltView{Halt: h}
		if inst, ok := s.registry.GetByID(h.InstrumentID); ok {
			v.Symbol = inst.Symbol
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"halts": out})
}

func (s *Server) handleAdminTick(w http.ResponseWriter, r *http.Request) {
	if err := s.ticker.TickNow(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminInfluence(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Factor         string  `json:"factor"`
		ValueDelta     float64 `json:"value_delta"`
		IntensityDelta float64 `json:"intensity_delta"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.influences.ApplyEvent(market.Factor(in.Factor), in.ValueDelta, in.IntensityDelta); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"sentiment": s.influences.Sentiment(),
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrInstrumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrInvalidSymbol), errors.Is(err, market.ErrValidation),
		errors.Is(err, market.ErrUnknownFactor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrDuplicateIdempotency), errors.Is(err, market.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, market.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func symbolParam(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "symbol"))
}

func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Actor-ID"))
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}
