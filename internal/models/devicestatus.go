package models

import "time"

// Source identifies where a computed IOB/COB value came from.
type Source string

// Known result sources, in the order the engines prefer them.
const (
	SourceLoop       Source = "Loop"
	SourceOpenAPS    Source = "OpenAPS"
	SourcePump       Source = "Pump"
	SourceMMConnect  Source = "MM Connect"
	SourceTreatments Source = "Care Portal"
)

// DeviceStatus is one uploaded device status document. At most one of the
// Loop/OpenAPS/Pump payloads is expected per uploader, but uploads with
// several populated are legal and resolved by source priority.
type DeviceStatus struct {
	ID      string         `json:"_id,omitempty"`
	Device  string         `json:"device,omitempty"`
	Mills   int64          `json:"mills"`
	Loop    *LoopStatus    `json:"loop,omitempty"`
	OpenAPS *OpenAPSStatus `json:"openaps,omitempty"`
	Pump    *PumpStatus    `json:"pump,omitempty"`
	Connect *ConnectInfo   `json:"connect,omitempty"`
}

// Time returns the upload time of the status document.
func (d *DeviceStatus) Time() time.Time {
	return time.UnixMilli(d.Mills)
}

// LoopStatus is the payload uploaded by Loop.
type LoopStatus struct {
	IOB *IOBStatus `json:"iob,omitempty"`
	COB *COBStatus `json:"cob,omitempty"`
}

// OpenAPSStatus is the payload uploaded by OpenAPS rigs.
type OpenAPSStatus struct {
	IOB *IOBStatus `json:"iob,omitempty"`
	COB *COBStatus `json:"cob,omitempty"`
}

// PumpStatus is the payload reported by pump uploaders (MiniMed Connect
// among them; ConnectInfo presence marks those).
type PumpStatus struct {
	IOB *IOBStatus `json:"iob,omitempty"`
}

// ConnectInfo is present on statuses relayed through MiniMed Connect.
type ConnectInfo struct {
	SensorState string `json:"sensorState,omitempty"`
}

// IOBStatus carries a device-reported insulin-on-board value. Different
// uploaders name the timestamp field differently ("timestamp" vs "time"),
// so both are kept and resolved by Millis.
type IOBStatus struct {
	IOB       float64 `json:"iob"`
	BasalIOB  float64 `json:"basaliob,omitempty"`
	BolusIOB  float64 `json:"bolusiob,omitempty"`
	Activity  float64 `json:"activity,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	Time      string  `json:"time,omitempty"`
}

// Millis resolves the reported timestamp, falling back to the enclosing
// status document's mills when neither field parses.
func (s *IOBStatus) Millis(fallback int64) int64 {
	if ms, ok := parseStatusTime(s.Timestamp); ok {
		return ms
	}
	if ms, ok := parseStatusTime(s.Time); ok {
		return ms
	}
	return fallback
}

// COBStatus carries a device-reported carbs-on-board value.
type COBStatus struct {
	COB       float64 `json:"cob"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// Millis resolves the reported timestamp with the same fallback rule as
// IOBStatus.Millis.
func (s *COBStatus) Millis(fallback int64) int64 {
	if ms, ok := parseStatusTime(s.Timestamp); ok {
		return ms
	}
	return fallback
}

func parseStatusTime(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UnixMilli(), true
	}
	return 0, false
}
