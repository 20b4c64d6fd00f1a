package bikeshare

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionSampleWireFormat(t *testing.T) {
	ts := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	b, err := json.Marshal(PositionSample{SessionID: "s-1", Timestamp: ts, Latitude: 53.3498, Longitude: -6.2603, Accuracy: 12})
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"s-1","timestamp":1709281800000,"latitude":53.3498,"longitude":-6.2603,"accuracy":12}`, string(b))

	var back PositionSample
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Timestamp.Equal(ts))
	assert.Equal(t, "s-1", back.SessionID)
}

func TestStationIDAcceptsNumbersAndStrings(t *testing.T) {
	var stations []Station
	require.NoError(t, json.Unmarshal([]byte(`[
		{"station_id": 42, "name": "A"},
		{"station_id": "b-7", "name": "B"},
		{"station_id": null, "name": "C"}
	]`), &stations))
	require.Len(t, stations, 3)
	assert.Equal(t, StationID("42"), stations[0].StationID)
	assert.Equal(t, StationID("b-7"), stations[1].StationID)
	assert.Empty(t, stations[2].StationID)

	var id StationID
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &id))
}

func TestAvailability(t *testing.T) {
	assert.Equal(t, AvailabilityEmpty, Station{NumBikesAvailable: 0}.Availability())
	assert.Equal(t, AvailabilityLow, Station{NumBikesAvailable: 1}.Availability())
	assert.Equal(t, AvailabilityLow, Station{NumBikesAvailable: lowBikeThreshold - 1}.Availability())
	assert.Equal(t, AvailabilityAvailable, Station{NumBikesAvailable: lowBikeThreshold}.Availability())
}

func TestTemporalContext(t *testing.T) {
	tests := []struct {
		in   string
		want TemporalContext
	}{
		{`"morning_peak"`, "morning_peak"},
		{`null`, ""},
		{`{ "hour": 8, "weekday": true }`, `{"hour":8,"weekday":true}`},
		{`3`, "3"},
	}
	for _, tt := range tests {
		var got TemporalContext
		require.NoError(t, json.Unmarshal([]byte(tt.in), &got), tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestStationRef(t *testing.T) {
	var plan TripPlan
	require.NoError(t, json.Unmarshal([]byte(`{
		"pickup_station": "Pearse Street",
		"destination_station": {"station_id": 5, "name": "Smithfield", "latitude": 53.34, "longitude": -6.27}
	}`), &plan))

	assert.Equal(t, "Pearse Street", plan.Pickup.Name)
	assert.Nil(t, plan.Pickup.Station)
	assert.Equal(t, "Smithfield", plan.Destination.Name)
	require.NotNil(t, plan.Destination.Station)
	assert.Equal(t, StationID("5"), plan.Destination.Station.StationID)
	assert.InDelta(t, 53.34, plan.Destination.Station.Latitude, 1e-9)
}

func TestParseTrends(t *testing.T) {
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(`{
		"status": "ok",
		"message": "fine",
		"Pearse Street": 12,
		"Smithfield": 3.5,
		"broken": "n/a"
	}`), &raw))

	got := ParseTrends(raw)
	assert.Equal(t, Trends{"Pearse Street": 12, "Smithfield": 3.5}, got)
	assert.Empty(t, ParseTrends(nil))
}
