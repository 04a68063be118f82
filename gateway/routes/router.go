package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crowdvault/core/state"
	"crowdvault/gateway/middleware"
	"crowdvault/integrations/exports"
	"crowdvault/native/crowdfund"
)

// Config wires the handlers and middleware served by the gateway.
type Config struct {
	RPCHandler  http.Handler
	State       *state.Manager
	RateLimiter *middleware.RateLimiter
	// RateLimitKey selects the limit applied to the RPC route; empty disables
	// limiting.
	RateLimitKey string
}

// New builds the gateway router: the JSON-RPC surface under /rpc plus
// liveness, metrics and export endpoints.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	if cfg.RPCHandler != nil {
		r.Route("/rpc", func(sr chi.Router) {
			if cfg.RateLimiter != nil && cfg.RateLimitKey != "" {
				sr.Use(cfg.RateLimiter.Middleware(cfg.RateLimitKey))
			}
			sr.Handle("/", cfg.RPCHandler)
		})
	}

	if cfg.State != nil {
		r.Get("/export/campaigns.csv", exportHandler(cfg.State, "text/csv", exports.CampaignsCSV))
		r.Get("/export/campaigns.jsonl", exportHandler(cfg.State, "application/jsonl", exports.CampaignsJSONL))
	}

	return r
}

func exportHandler(st *state.Manager, contentType string, build exportBuilder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaigns, err := st.CampaignList()
		if err != nil {
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		data, checksum, err := build(campaigns)
		if err != nil {
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Export-Checksum", checksum)
		_, _ = w.Write(data)
	}
}

type exportBuilder func([]*crowdfund.Campaign) ([]byte, string, error)
