package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

// AlarmReader loads alarm records.
type AlarmReader interface {
	GetByID(ctx context.Context, id string) (*alarms.Alarm, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

const eventEscalated = "Alarm Escalated"

// Notifier renders lifecycle messages and sends them through a channel.
// Active CRITICAL and MAJOR alarms that stay unacknowledged past the
// escalation delay are sent again as escalations.
type Notifier struct {
	alarms         AlarmReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	logger         *zap.Logger
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures escalation delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alarm and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs an alarm notifier.
func NewNotifier(alarms AlarmReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if alarms == nil {
		return nil, errors.New("alarm notifier: nil alarm reader")
	}
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		alarms:         alarms,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         zap.NewNop(),
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// PushLifecycleMessage implements application.LifecyclePublisher.
func (n *Notifier) PushLifecycleMessage(ctx context.Context, _ string, _ alarms.EntityID, msg application.LifecycleMessage, eventType string) error {
	if n == nil || n.channel == nil {
		return nil
	}
	if err := n.dispatch(ctx, eventType, msg.Alarm, msg.RuleName); err != nil {
		return err
	}
	switch eventType {
	case alarms.EventAlarmCreated, alarms.EventAlarmSeverityUpdated:
		n.scheduleEscalation(msg.Alarm, msg.RuleName)
	case alarms.EventAlarmCleared:
		n.cancelEscalation(msg.Alarm.ID)
	}
	return nil
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alarm alarms.Alarm, ruleName string) error {
	content, err := n.template.Render(buildTemplateData(eventType, alarm, ruleName))
	if err != nil {
		return err
	}
	if !n.shouldSend(alarm.ID, eventType, content) {
		return nil
	}
	note := Notification{
		Event:      eventType,
		AlarmID:    alarm.ID,
		TenantID:   alarm.TenantID,
		Originator: alarm.Originator.String(),
		Severity:   string(alarm.Severity),
		Text:       content,
	}
	if err := n.channel.Send(ctx, note); err != nil {
		return err
	}
	n.markSent(alarm.ID, eventType, content)
	return nil
}

func (n *Notifier) scheduleEscalation(alarm alarms.Alarm, ruleName string) {
	if n.escalation <= 0 || alarm.ID == "" || !escalates(alarm.Severity) {
		n.cancelEscalation(alarm.ID)
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alarm.ID]; ok && existing != nil {
		existing.Stop()
	}
	n.timers[alarm.ID] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(alarm.ID, ruleName)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(alarmID string) {
	if alarmID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alarmID]
	delete(n.timers, alarmID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(alarmID, ruleName string) {
	n.mu.Lock()
	delete(n.timers, alarmID)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	alarm, err := n.alarms.GetByID(ctx, alarmID)
	if err != nil || alarm == nil {
		return
	}
	if !alarm.Active() || alarm.Acknowledged || !escalates(alarm.Severity) {
		return
	}
	if err := n.dispatch(ctx, eventEscalated, *alarm, ruleName); err != nil {
		n.logger.Warn("alarm escalation failed", zap.String("alarm_id", alarmID), zap.Error(err))
	}
}

func buildTemplateData(eventType string, alarm alarms.Alarm, ruleName string) TemplateData {
	if ruleName == "" {
		ruleName = alarm.RuleID
	}
	startAt := alarm.StartAt
	if startAt.IsZero() {
		startAt = alarm.CreatedAt
	}
	return TemplateData{
		TenantID:   alarm.TenantID,
		Entity:     alarm.Originator.ID,
		EntityType: string(alarm.Originator.Type),
		AlarmID:    alarm.ID,
		AlarmType:  alarm.Type,
		Rule:       ruleName,
		RuleID:     alarm.RuleID,
		Severity:   string(alarm.Severity),
		StartTime:  startAt.UTC().Format(time.RFC3339),
		Status:     statusLabel(alarm),
		StatusCode: alarm.Status,
		Details:    string(alarm.Details),
		Suggestion: suggestionFor(alarm.Severity),
		Event:      eventType,
		EventLabel: eventLabel(eventType),
	}
}

func statusLabel(alarm alarms.Alarm) string {
	switch {
	case !alarm.Active():
		return "cleared"
	case alarm.Acknowledged:
		return "active, acknowledged"
	default:
		return "active"
	}
}

func eventLabel(event string) string {
	switch event {
	case alarms.EventAlarmCreated:
		return "Triggered"
	case alarms.EventAlarmSeverityUpdated:
		return "Severity Changed"
	case alarms.EventAlarmUpdated:
		return "Updated"
	case alarms.EventAlarmCleared:
		return "Cleared"
	case eventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(severity alarms.Severity) string {
	switch severity {
	case alarms.SeverityCritical, alarms.SeverityMajor:
		return "Investigate immediately and mitigate risk."
	case alarms.SeverityMinor, alarms.SeverityWarning:
		return "Verify the condition and take action if needed."
	default:
		return "Monitor the alarm condition."
	}
}

func escalates(severity alarms.Severity) bool {
	return severity == alarms.SeverityCritical || severity == alarms.SeverityMajor
}

func (n *Notifier) shouldSend(alarmID, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alarmID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alarmID, eventType, content string) {
	key := notificationKey(alarmID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alarmID, eventType string) string {
	return alarmID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
