package enrollsync

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/instrument"
	"github.com/weaveworks/common/logging"

	"github.com/courseops/commerce-sync/sailthru"
)

var (
	processDurationCollector = instrument.NewHistogramCollectorFromOpts(prometheus.HistogramOpts{
		Namespace: "commerce_sync",
		Name:      "event_duration_seconds",
		Help:      "Time taken to process one enrollment event.",
	})

	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce_sync",
		Name:      "events_total",
		Help:      "Enrollment events processed, by outcome.",
	}, []string{"outcome"})
)

func init() {
	processDurationCollector.Register()
	prometheus.MustRegister(eventsTotal)
}

// RetriableError marks a processing failure the queue should redeliver;
// everything else is settled after one pass.
type RetriableError struct {
	error
}

// NewRetriableError marks err as one the queue should redeliver.
func NewRetriableError(err error) error {
	return RetriableError{err}
}

// IsRetriable reports whether the processor asked for the event to be
// redelivered.
func IsRetriable(err error) bool {
	_, ok := err.(RetriableError)
	return ok
}

// Processor reconciles one commerce event with Sailthru: it submits the
// purchase record and maintains the user's unenrolled course list. It does
// not retry anything itself; retry scheduling belongs to the queue feeding
// it.
type Processor struct {
	log     logging.Interface
	client  sailthru.Client
	sites   *SiteSettings
	content *contentCache
}

// New creates a Processor. The content cache it owns is shared by every
// event the processor handles.
func New(log logging.Interface, client sailthru.Client, sites *SiteSettings) *Processor {
	return &Processor{
		log:     log,
		client:  client,
		sites:   sites,
		content: newContentCache(log, client),
	}
}

// Process runs one event to completion. A RetriableError return asks the
// transport to redeliver the event; any other return settles it.
func (p *Processor) Process(ctx context.Context, ev Event) error {
	return instrument.CollectedRequest(ctx, "Processor.Process", processDurationCollector, nil, func(ctx context.Context) error {
		return p.process(ctx, ev)
	})
}

func (p *Processor) process(ctx context.Context, ev Event) error {
	cfg, err := p.sites.Resolve(ev.SiteCode)
	if err != nil {
		p.log.WithField("site_code", ev.SiteCode).WithField("message_id", ev.MessageID).
			Errorf("Cannot resolve site configuration: %v", err)
		eventsTotal.WithLabelValues("unknown_site").Inc()
		return nil
	}
	if !cfg.Enabled {
		// Deliberate skip, not a failure: no log, no remote calls.
		eventsTotal.WithLabelValues("disabled").Inc()
		return nil
	}

	content := p.content.content(ctx, ev.CourseID, cfg.ContentCacheTTL)
	item := buildLineItem(ev, content, p.userVars(ctx, ev.Email))
	options, incomplete := selectOptions(ev.Active, ev.Mode, cfg)

	if item.Price == 0 && cfg.MinimumCost.IsPositive() {
		// Free enrollment below the configured threshold: expected, no
		// purchase record for it.
		eventsTotal.WithLabelValues("free_skip").Inc()
	} else if err := p.client.Purchase(ctx, ev.Email, []sailthru.PurchaseItem{item}, options, incomplete, ev.MessageID); err != nil {
		apiErr, ok := sailthru.AsAPIError(err)
		if !ok {
			// Transport failure: propagate so the queue redelivers the event.
			eventsTotal.WithLabelValues("retry").Inc()
			return RetriableError{errors.Wrapf(err, "submitting purchase %s", ev.MessageID)}
		}
		// An application error on the purchase does not settle or fail the
		// whole event; the unenrolled list still gets reconciled.
		p.log.WithField("email", ev.Email).WithField("course_id", ev.CourseID).
			WithField("message_id", ev.MessageID).WithField("code", apiErr.Code).
			Errorf("Error submitting purchase to Sailthru: %v", apiErr)
	}

	if !p.syncUnenrolledList(ctx, ev.Email, ev.CourseURL, ev.Active) {
		eventsTotal.WithLabelValues("retry").Inc()
		return RetriableError{errors.Errorf("unenrolled list for %s not updated", ev.Email)}
	}

	eventsTotal.WithLabelValues("processed").Inc()
	return nil
}

// userVars reads the vars stored on the user's profile, used for
// user-specific upgrade deadlines in the line-item. Failures degrade to an
// empty mapping; a missing deadline only costs a blank in the message.
func (p *Processor) userVars(ctx context.Context, email string) map[string]interface{} {
	body, err := p.client.GetUser(ctx, email)
	if err != nil {
		p.log.WithField("email", email).Warnf("Cannot read user vars, proceeding without: %v", err)
		return map[string]interface{}{}
	}
	if vars, ok := body["vars"].(map[string]interface{}); ok {
		return vars
	}
	return map[string]interface{}{}
}
