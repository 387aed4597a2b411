package application

import (
	"encoding/json"
	"regexp"

	alarms "alarm-engine/internal/alarms/domain"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

type alarmDetails struct {
	Data        string `json:"data,omitempty"`
	Count       int64  `json:"count,omitempty"`
	Duration    int64  `json:"duration,omitempty"`
	DashboardID string `json:"dashboardId,omitempty"`
}

// renderDetails builds the alarm details JSON. Placeholders naming unresolved
// arguments are kept verbatim.
func renderDetails(rule *alarms.AlarmRule, ops alarms.Operands, meta alarms.SpecMetadata) json.RawMessage {
	details := alarmDetails{DashboardID: rule.DashboardID}
	if rule.DetailsTemplate != "" {
		details.Data = placeholder.ReplaceAllStringFunc(rule.DetailsTemplate, func(m string) string {
			name := placeholder.FindStringSubmatch(m)[1]
			if v, ok := ops.Value(name); ok {
				return v.String()
			}
			return m
		})
	}
	switch meta.Type {
	case alarms.SpecRepeating:
		details.Count = meta.Count
	case alarms.SpecDuration, alarms.SpecNoUpdate:
		details.Duration = meta.Duration.Milliseconds()
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	if string(raw) == "{}" {
		return nil
	}
	return raw
}
