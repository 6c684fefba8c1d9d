package webapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"amzym.dev/livetrack/internal/gateway"
	"amzym.dev/livetrack/internal/orders"
	"amzym.dev/livetrack/internal/registry"
	"amzym.dev/livetrack/internal/track"
	"amzym.dev/livetrack/internal/upstream"
	"amzym.dev/livetrack/internal/util"
)

// Fetcher is the inline upstream dependency of the snapshot endpoints;
// *upstream.Client satisfies it.
type Fetcher interface {
	FetchCurrent(ctx context.Context) (track.LocationEvent, error)
}

type ApiConfig struct {
	ListenAddr string
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    log.Logger
	reg    *registry.Registry
	gps    Fetcher
	orders orders.Store
}

// NewApi wires the read-only query surface over the registry, the upstream
// proxy and the order collaborator. The orders store may be nil when no
// database is configured; the delivery-tracking endpoint then reports the
// collaborator unavailable.
func NewApi(reg *registry.Registry, gw *gateway.Gateway, gps Fetcher, ostore orders.Store, config *ApiConfig) *Api {
	api := &Api{config: config}
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api-server").Value()
	api.reg = reg
	api.gps = gps
	api.orders = ostore
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)

	r.Route("/location", func(r chi.Router) {
		r.Get("/connected-users", api.connectedUsers)
		r.Get("/all-users", api.allUsers)
		r.Get("/gps-data", api.gpsData)
		r.Get("/delivery-tracking/{orderId}", api.deliveryTracking)
		r.Get("/ws", gw.ServeWs)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Run() {
	api.log.Info().Msgf("starting api-server on : %s", api.s.Addr)
	err := api.s.ListenAndServe()
	if err != nil {
		api.log.Error().Err(err).Msg("")
		panic(err)
	}
}

func (api *Api) Handler() http.Handler {
	return api.r
}

type connectedUsersResponse struct {
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
}

type allUsersResponse struct {
	Users     []registry.Participant `json:"users"`
	Timestamp string                 `json:"timestamp"`
}

type deliveryTrackingResponse struct {
	orders.Delivery
	CurrentLocation track.LocationEvent `json:"currentLocation"`
	Timestamp       string              `json:"timestamp"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (api *Api) connectedUsers(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, connectedUsersResponse{Count: api.reg.Count(), Timestamp: now()})
}

func (api *Api) allUsers(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, allUsersResponse{Users: api.reg.List(), Timestamp: now()})
}

// gpsData proxies one upstream fetch. Upstream failure surfaces as 502
// with no fabricated coordinates.
func (api *Api) gpsData(w http.ResponseWriter, r *http.Request) {
	ev, err := api.gps.FetchCurrent(r.Context())
	if err != nil {
		api.log.Warn().Err(err).Msg("gps-data fetch failed")
		util.JsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	util.JsonWrite(w, ev)
}

func (api *Api) deliveryTracking(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		util.JsonError(w, http.StatusBadRequest, "orderId must be a positive integer")
		return
	}
	if api.orders == nil {
		util.JsonError(w, http.StatusServiceUnavailable, "order service not configured")
		return
	}
	d, err := api.orders.Delivery(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			util.JsonError(w, http.StatusNotFound, "order not found")
			return
		}
		api.log.Error().Err(err).Int64("order_id", orderID).Msg("order lookup failed")
		util.JsonError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}
	ev, err := api.gps.FetchCurrent(r.Context())
	if err != nil {
		uerr := &upstream.Error{}
		if errors.As(err, &uerr) {
			api.log.Warn().Err(err).Str("kind", uerr.Kind.String()).Int64("order_id", orderID).Msg("tracking fetch failed")
		}
		util.JsonError(w, http.StatusBadGateway, "live position unavailable: "+err.Error())
		return
	}
	util.JsonWrite(w, deliveryTrackingResponse{Delivery: *d, CurrentLocation: ev, Timestamp: now()})
}
