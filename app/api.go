package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/fiffu/reviewwatch/config"
	"github.com/fiffu/reviewwatch/lib"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, telemetry *Telemetry) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, telemetry.Handler)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("API server stopped", "err", err)
				}
			}()
			log.Sugar().Infow("API server listening", "addr", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, metrics http.Handler) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/clients", ctrl.registerClient)

		r.Route("/sources/{source}/clients/{client_id}", func(r chi.Router) {
			r.Post("/refresh", ctrl.refresh)
			r.Get("/status", ctrl.status)
			r.Get("/reviews", ctrl.reviews)
		})

		r.Group(func(r chi.Router) {
			if creds := cfg.GetCreds(); len(creds) > 0 {
				r.Use(middleware.BasicAuth("reviewwatch", creds))
			} else {
				log.Sugar().Info("Auth is disabled since no credentials are defined")
			}
			r.Get("/diagnostics", ctrl.diagnostics)
		})
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := newAPIError(err)
	if apiErr.status >= http.StatusInternalServerError {
		ctrl.log.Sugar().Errorw("Request failed", "path", r.URL.Path, "err", err)
	}
	if apiErr.status == http.StatusTooManyRequests {
		if secs, ok := apiErr.Details["remaining_seconds"].(int64); ok {
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}
	ctrl.resolve(w, apiErr.status, apiErr)
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		ctrl.log.Sugar().Errorw("Failed to encode response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func (ctrl *controller) registerClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := readClientID(w, r)
	if err != nil {
		ctrl.resolve(w, http.StatusBadRequest, &APIError{Code: "invalid_request", Message: err.Error()})
		return
	}

	client, err := ctrl.svc.RegisterClient(r.Context(), clientID)
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ClientView{}.From(client))
}

// readClientID accepts either a JSON body or a form field.
func readClientID(w http.ResponseWriter, r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return r.FormValue("client_id"), nil
	}

	var body struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&body); err != nil {
		return "", fmt.Errorf("malformed body: %w", err)
	}
	return body.ClientID, nil
}

func (ctrl *controller) refresh(w http.ResponseWriter, r *http.Request) {
	source, clientID := chi.URLParam(r, "source"), chi.URLParam(r, "client_id")

	outcome, err := ctrl.svc.Refresh(r.Context(), source, clientID)
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, RefreshView{
		Snapshot:      SnapshotView{}.From(outcome.Snapshot),
		Created:       outcome.Created,
		NextAllowedAt: outcome.NextAllowedAt,
	})
}

func (ctrl *controller) status(w http.ResponseWriter, r *http.Request) {
	source, clientID := chi.URLParam(r, "source"), chi.URLParam(r, "client_id")

	report, err := ctrl.svc.Status(r.Context(), source, clientID)
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, report)
}

func (ctrl *controller) reviews(w http.ResponseWriter, r *http.Request) {
	source, clientID := chi.URLParam(r, "source"), chi.URLParam(r, "client_id")

	reviews, err := ctrl.svc.Reviews(r.Context(), source, clientID)
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ReviewsView{}.From(reviews))
}

func (ctrl *controller) diagnostics(w http.ResponseWriter, r *http.Request) {
	ctrl.resolve(w, http.StatusOK, ctrl.svc.Diagnostics(r.Context()))
}
