package billing

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// PlanLister is satisfied by *billing.Catalog.
type PlanLister interface {
	ActivePlans(ctx context.Context) ([]billing.Plan, error)
}

// SubscriptionReader is satisfied by *billing.Lifecycle.
type SubscriptionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*billing.Subscription, error)
}

// InvoiceReader is satisfied by *billing.Invoicer.
type InvoiceReader interface {
	GetByNumber(ctx context.Context, number string) (*billing.Invoice, error)
}

// RenewalRunner is satisfied by *billing.RenewalSweep.
type RenewalRunner interface {
	Run(ctx context.Context) (billing.SweepReport, error)
}

// OverdueRunner is satisfied by *billing.Invoicer.
type OverdueRunner interface {
	MarkOverdue(ctx context.Context, asOf time.Time) (billing.OverdueReport, error)
}

// RouterOptions configures which endpoints the ops router mounts.
// Each dependency is optional; its routes are only mounted if provided.
type RouterOptions struct {
	Plans         PlanLister
	Subscriptions SubscriptionReader
	Invoices      InvoiceReader
	Renewal       RenewalRunner
	Overdue       OverdueRunner

	// Health maps dependency names to readiness probes for GET /healthz.
	Health map[string]func(context.Context) error

	Clock  func() time.Time
	Logger *slog.Logger
}

// Router creates the billing operations router.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(billing.RouterOptions{
//	    Plans:   catalog,
//	    Renewal: sweep,
//	    Overdue: invoicer,
//	    Health:  map[string]func(context.Context) error{"postgres": store.Healthcheck},
//	}))
func Router(opts RouterOptions) chi.Router {
	h := &handlers{opts: opts}
	if h.opts.Clock == nil {
		h.opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if h.opts.Logger == nil {
		h.opts.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/healthz", h.health)

	if opts.Plans != nil {
		r.Get("/plans", h.listPlans)
	}
	if opts.Subscriptions != nil {
		r.Get("/subscriptions/{id}", h.getSubscription)
	}
	if opts.Invoices != nil {
		r.Get("/invoices/{number}", h.getInvoice)
	}

	if opts.Renewal != nil {
		r.Post("/sweeps/renewal", h.runRenewal)
	}
	if opts.Overdue != nil {
		r.Post("/sweeps/overdue", h.runOverdue)
	}

	return r
}

type handlers struct {
	opts RouterOptions
}

func (h *handlers) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.opts.Plans.ActivePlans(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, newPlanResponse(p))
	}
	writeData(w, http.StatusOK, out, map[string]any{"count": len(out)})
}

func (h *handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: &errorDetail{
			Code:    "bad_request",
			Message: "subscription id must be a UUID",
		}})
		return
	}
	sub, err := h.opts.Subscriptions.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newSubscriptionResponse(*sub), nil)
}

func (h *handlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.opts.Invoices.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newInvoiceResponse(*inv), nil)
}

func (h *handlers) runRenewal(w http.ResponseWriter, r *http.Request) {
	report, err := h.opts.Renewal.Run(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sweepResponse{
		Sweep:      "renewal",
		Due:        report.Due,
		Renewed:    report.Renewed,
		Skipped:    report.Skipped,
		Failed:     report.Failed,
		DurationMS: report.Duration.Milliseconds(),
	}, nil)
}

func (h *handlers) runOverdue(w http.ResponseWriter, r *http.Request) {
	report, err := h.opts.Overdue.MarkOverdue(r.Context(), h.opts.Clock())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, overdueResponse{
		Sweep:      "overdue",
		Candidates: report.Candidates,
		Overdue:    report.Overdue,
		Delinquent: report.Delinquent,
		Failed:     report.Failed,
		DurationMS: report.Duration.Milliseconds(),
	}, nil)
}

// health runs every probe and reports each result; any failure yields 503.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.opts.Health))
	status := http.StatusOK
	for name, probe := range h.opts.Health {
		if err := probe(r.Context()); err != nil {
			h.opts.Logger.ErrorContext(r.Context(), "readiness check failed",
				slog.String("dependency", name), logger.Error(err))
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeData(w, status, map[string]any{"status": state, "checks": checks}, nil)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := classifyError(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.opts.Logger.Log(r.Context(), level, "billing request failed",
		slog.String("path", r.URL.Path), logger.Error(err))
	writeError(w, err)
}
