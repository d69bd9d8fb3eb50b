// Package ingress is the HTTP front end: it decodes a POST body directly
// as a wire.ExecuteRequest and encodes a wire.ExecuteResult as the
// response, delegating the actual work to an Engine. Deliberately carries
// no client authentication beyond whatever TLS terminates in front of it
// (spec §7 non-goals).
package ingress

import (
	"context"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	chiware "github.com/go-chi/chi/middleware"
	"github.com/pressly/lg"
	"github.com/sirupsen/logrus"

	"github.com/ninefl/psi-node/internal/metrics"
	"github.com/ninefl/psi-node/internal/wire"
)

// Executor is the subset of Engine the ingress calls into.
type Executor interface {
	Execute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error)
}

// NewRouter builds the chi router: RequestID/Heartbeat/Timeout middleware
// (no BearerToken, unlike the teacher's setupRouter — see SPEC_FULL.md §2
// dropped-dependency note), a request logger when logger is non-nil, and
// the PSI execute route. Metrics are not mounted here; they are served by
// metrics.RegisterAndListen on a separate listener.
func NewRouter(ctx context.Context, engine Executor, policyName string, logger *logrus.Logger) (context.Context, *chi.Mux) {
	r := chi.NewRouter()
	r.Use(chiware.RequestID)
	r.Use(chiware.Heartbeat("/"))
	r.Use(chiware.Timeout(60 * time.Second))
	if logger != nil {
		r.Use(lg.RequestLogger(logger))
	}

	r.Post("/psi", handlePsi(engine, policyName))

	return ctx, r
}

func handlePsi(engine Executor, policyName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := ioutil.ReadAll(r.Body)
		if err != nil {
			writeResult(w, wire.FromError(err, nil))
			return
		}

		req := new(wire.ExecuteRequest)
		if err := req.UnmarshalBinary(body); err != nil {
			metrics.CounterRequestErrors.WithLabelValues(wire.KindBadInput.String()).Inc()
			writeResult(w, wire.FromError(err, nil))
			return
		}
		req.EnsureRequestID()

		metrics.CounterRequestsTotal.WithLabelValues(policyName).Inc()

		res, err := engine.Execute(r.Context(), req)
		if err != nil {
			kind := "unknown"
			if werr, ok := wire.AsError(err); ok {
				kind = werr.Kind.String()
			}
			metrics.CounterRequestErrors.WithLabelValues(kind).Inc()
			writeResult(w, wire.FromError(err, req.Header))
			return
		}
		writeResult(w, res)
	}
}

func writeResult(w http.ResponseWriter, res *wire.ExecuteResult) {
	body, err := res.MarshalBinary()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
