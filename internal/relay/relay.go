// Package relay is the single delivery path shared by the HTTP API, the
// task notifier and the reminder scheduler. It wraps the NAVER WORKS sender
// with an audit trail, events and structured logs.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"worksrelay/internal/eventbus"
	"worksrelay/internal/storage"
	"worksrelay/internal/works"
	logx "worksrelay/pkg/logx"
)

// MessageSender is implemented by *works.Sender.
type MessageSender interface {
	Send(ctx context.Context, requested, text string) (works.Delivery, error)
}

// Result describes one delivery attempt, successful or not.
type Result struct {
	ID       string
	Source   string
	Target   string
	Response works.Response
	Took     time.Duration
}

type Service struct {
	sender MessageSender
	store  storage.Store
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time
}

// New returns a relay service. store and bus may be nil.
func New(sender MessageSender, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		sender: sender,
		store:  store,
		bus:    bus,
		log:    log.With(logx.String("comp", "relay")),
		now:    time.Now,
	}
}

// Send delivers text on behalf of source. The works error is returned as is.
func (s *Service) Send(ctx context.Context, source, userID, text string) (Result, error) {
	start := s.now()
	d, err := s.sender.Send(ctx, userID, text)
	res := Result{
		ID:       uuid.NewString(),
		Source:   source,
		Target:   d.Target,
		Response: d.Response,
		Took:     s.now().Sub(start),
	}

	entry := storage.AuditEntry{
		ID:          res.ID,
		At:          start,
		Source:      source,
		RequestedID: userID,
		TargetID:    res.Target,
		TextLen:     len(text),
		OK:          err == nil,
		TookMS:      res.Took.Milliseconds(),
	}
	fields := []logx.Field{
		logx.String("delivery_id", res.ID),
		logx.String("source", source),
		logx.String("target", res.Target),
		logx.Duration("took", res.Took),
	}
	if err != nil {
		entry.Status = statusOf(err)
		entry.Error = err.Error()
		eventbus.Emit(s.bus, eventbus.TypeRelayFailed, res)
		s.log.Warn("delivery failed", append(fields, logx.Int("status", entry.Status), logx.Err(err))...)
	} else {
		eventbus.Emit(s.bus, eventbus.TypeRelaySent, res)
		s.log.Info("message delivered", fields...)
	}
	s.audit(ctx, entry)
	return res, err
}

func (s *Service) audit(ctx context.Context, e storage.AuditEntry) {
	if s.store == nil {
		return
	}
	// the request context may already be cancelled; the record is still wanted
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.AppendAudit(actx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func statusOf(err error) int {
	var ae *works.AuthError
	if errors.As(err, &ae) {
		return ae.Status
	}
	var de *works.DeliveryError
	if errors.As(err, &de) {
		return de.Status
	}
	return 0
}
