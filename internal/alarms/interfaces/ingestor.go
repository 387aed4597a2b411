package interfaces

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/eventing"
	"alarm-engine/internal/observability/metrics"
)

// AttributeRecorder persists the values carried by inbound events.
type AttributeRecorder interface {
	Record(ctx context.Context, entity alarms.EntityID, snap alarms.Snapshot) error
}

// OwnershipWriter persists entity ownership changes.
type OwnershipWriter interface {
	Assign(ctx context.Context, entity, customer, tenant alarms.EntityID) error
}

// Ingestor decodes inbound messages, persists their side effects and queues
// them for evaluation.
type Ingestor struct {
	sink     alarmapp.EventSink
	recorder AttributeRecorder
	owners   OwnershipWriter
	now      func() time.Time
	logger   *zap.Logger
}

// IngestorOption customizes the ingestor.
type IngestorOption func(*Ingestor)

// WithRecorder persists telemetry and attribute values before evaluation.
func WithRecorder(recorder AttributeRecorder) IngestorOption {
	return func(i *Ingestor) {
		i.recorder = recorder
	}
}

// WithOwnershipWriter persists assignment events before evaluation.
func WithOwnershipWriter(owners OwnershipWriter) IngestorOption {
	return func(i *Ingestor) {
		i.owners = owners
	}
}

// WithIngestLogger assigns a logger.
func WithIngestLogger(logger *zap.Logger) IngestorOption {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIngestor constructs an ingestor.
func NewIngestor(sink alarmapp.EventSink, opts ...IngestorOption) (*Ingestor, error) {
	if sink == nil {
		return nil, errors.New("ingest: nil event sink")
	}
	i := &Ingestor{
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Ingest handles one raw inbound message and returns the queued event.
func (i *Ingestor) Ingest(ctx context.Context, data []byte) (alarmapp.Event, error) {
	decoded, err := Decode(data, i.now())
	if err != nil {
		metrics.IncIngestError("decode")
		return alarmapp.Event{}, err
	}
	return i.Accept(ctx, decoded)
}

// Accept persists a decoded message and submits it to the engine.
func (i *Ingestor) Accept(ctx context.Context, decoded Decoded) (alarmapp.Event, error) {
	ev := decoded.Event
	if ev.ID == "" {
		ev.ID = eventing.NewEventID()
	}
	if i.recorder != nil {
		for _, snap := range ev.Snapshots() {
			if err := i.recorder.Record(ctx, ev.Entity, snap); err != nil {
				metrics.IncIngestError("record")
				return alarmapp.Event{}, err
			}
		}
	}
	if i.owners != nil && (ev.Kind == alarmapp.EventEntityAssigned || ev.Kind == alarmapp.EventEntityUnassigned) {
		tenant := alarms.EntityID{Type: alarms.EntityTenant, ID: ev.TenantID}
		if err := i.owners.Assign(ctx, ev.Entity, decoded.Customer, tenant); err != nil {
			metrics.IncIngestError("ownership")
			return alarmapp.Event{}, err
		}
	}
	if err := i.sink.Submit(ev); err != nil {
		metrics.IncIngestError("queue")
		i.logger.Warn("event rejected",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("entity_id", ev.Entity.String()),
			zap.Error(err))
		return alarmapp.Event{}, err
	}
	return ev, nil
}
