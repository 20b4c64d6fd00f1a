package bikeshare

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// PositionSample is one GPS fix tagged with the session that produced it.
type PositionSample struct {
	SessionID string
	Timestamp time.Time // wall clock at fix time; carries the monotonic reading
	Latitude  float64
	Longitude float64
	Accuracy  float64 // meters, as reported by the positioning source
}

type wireSample struct {
	SessionID string  `json:"session_id"`
	Timestamp int64   `json:"timestamp"` // unix millis
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

func (s PositionSample) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSample{
		SessionID: s.SessionID,
		Timestamp: s.Timestamp.UnixMilli(),
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Accuracy:  s.Accuracy,
	})
}

func (s *PositionSample) UnmarshalJSON(b []byte) error {
	var w wireSample
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = PositionSample{
		SessionID: w.SessionID,
		Timestamp: time.UnixMilli(w.Timestamp),
		Latitude:  w.Latitude,
		Longitude: w.Longitude,
		Accuracy:  w.Accuracy,
	}
	return nil
}

// Session is the identity and counters of one GPS tracking interval.
type Session struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	SampleCount int       `json:"sample_count"`
	UploadCount int       `json:"upload_count"`
}

// StationID accepts both string and numeric identifiers from the inventory feed.
type StationID string

func (id *StationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StationID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = StationID(n.String())
	return nil
}

type Station struct {
	StationID         StationID `json:"station_id"`
	Name              string    `json:"name"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	NumBikesAvailable int       `json:"num_bikes_available"`
	NumDocksAvailable int       `json:"num_docks_available"`
}

type Availability string

const (
	AvailabilityEmpty     Availability = "empty"
	AvailabilityLow       Availability = "low"
	AvailabilityAvailable Availability = "available"
)

// lowBikeThreshold is the bike count under which a station is shown as running low.
const lowBikeThreshold = 5

func (s Station) Availability() Availability {
	switch {
	case s.NumBikesAvailable == 0:
		return AvailabilityEmpty
	case s.NumBikesAvailable < lowBikeThreshold:
		return AvailabilityLow
	default:
		return AvailabilityAvailable
	}
}

// StationSnapshot is the result of one inventory poll. It is replaced wholesale
// and never mutated after publication.
type StationSnapshot struct {
	Count     int       `json:"count"`
	Stations  []Station `json:"stations"`
	FetchedAt time.Time `json:"fetched_at"`
}

// TopStation is one entry of the ranked alternates returned by the fusion backend.
type TopStation struct {
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	DistanceM float64 `json:"distance_m"`
	Bikes     int     `json:"bikes"`
}

// TemporalContext is an opaque time-of-day label assigned by the backend.
// Non-string payloads are kept as their compact JSON text.
type TemporalContext string

func (t *TemporalContext) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = TemporalContext(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	*t = TemporalContext(buf.String())
	return nil
}

type NearestStation struct {
	Station
	TemporalContext TemporalContext `json:"temporal_context,omitempty"`
}

type FusionResult struct {
	SessionID string         `json:"session_id"`
	Nearest   NearestStation `json:"nearest_station"`
	DistanceM float64        `json:"distance_m"`
	ETASec    float64        `json:"eta_sec"`
	Top3      []TopStation   `json:"top3"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// StationRef names a station in a trip plan. The backend may send either the
// bare station name or a full station object.
type StationRef struct {
	Name    string   `json:"name"`
	Station *Station `json:"station,omitempty"`
}

func (r *StationRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = StationRef{Name: s}
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*r = StationRef{}
		return nil
	}
	var st Station
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	*r = StationRef{Name: st.Name, Station: &st}
	return nil
}

type TripPlan struct {
	Pickup      StationRef `json:"pickup_station"`
	Destination StationRef `json:"destination_station"`
	DistanceM   float64    `json:"distance_m"`
	ETASec      float64    `json:"eta_sec"`
	PlannedAt   time.Time  `json:"planned_at"`
}

// SessionRecord is a past session as listed by the analytics backend.
type SessionRecord struct {
	ID   string `json:"id"`
	Date string `json:"date"`
}

// Trends ranks stations by how often they were nearest during a session.
type Trends map[string]float64

// RoutePoint is one point of a recorded session trace.
type RoutePoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type SessionStats struct {
	GPSPoints         int            `json:"gps_points"`
	TotalDistanceM    float64        `json:"total_distance_m"`
	DurationSec       float64        `json:"duration_sec"`
	AverageSpeedKmh   float64        `json:"average_speed_kmh"`
	MostCommonStation string         `json:"most_common_station"`
	StationVisits     map[string]int `json:"station_visits"`
	Route             []RoutePoint   `json:"route"`
}

// ParseTrends keeps the numeric members of a trends payload and drops the
// envelope fields the backend may mix in.
func ParseTrends(raw map[string]json.RawMessage) Trends {
	out := make(Trends, len(raw))
	for name, v := range raw {
		if name == "status" || name == "message" {
			continue
		}
		f, err := strconv.ParseFloat(string(bytes.TrimSpace(v)), 64)
		if err != nil {
			continue
		}
		out[name] = f
	}
	return out
}
