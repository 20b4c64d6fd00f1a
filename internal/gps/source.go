// Package gps provides the positioning sources a GPS session samples from.
package gps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable means the device has no positioning capability at all.
var ErrUnavailable = errors.New("gps: geolocation not supported on this device")

// Fix is one high-accuracy position reading.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // meters
	At        time.Time
}

// Source acquires position fixes. Fix may block until a reading is available
// or ctx is done; a failed reading is reported as an error and the caller may
// simply try again on its next tick.
type Source interface {
	Available() bool
	Fix(ctx context.Context) (Fix, error)
}

// Unavailable is the Source used when no positioning hardware is configured.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Fix(context.Context) (Fix, error) { return Fix{}, ErrUnavailable }

// Static always reports the same position. Useful for kiosks and demos.
type Static struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	now       func() time.Time
}

func NewStatic(lat, lon, accuracy float64) *Static {
	return &Static{Latitude: lat, Longitude: lon, Accuracy: accuracy, now: time.Now}
}

func (s *Static) Available() bool { return true }

func (s *Static) Fix(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	return Fix{Latitude: s.Latitude, Longitude: s.Longitude, Accuracy: s.Accuracy, At: s.now()}, nil
}

// defaultStaticAccuracy is used when a static source omits the accuracy.
const defaultStaticAccuracy = 10.0

// FromSpec builds a Source from the GPS_SOURCE setting:
//
//	none
//	static:<lat>,<lon>[,<accuracy>]
//	replay:<path to csv>
func FromSpec(spec string) (Source, error) {
	spec = strings.TrimSpace(spec)
	kind, arg, _ := strings.Cut(spec, ":")
	switch strings.ToLower(kind) {
	case "", "none":
		return Unavailable{}, nil
	case "static":
		parts := strings.Split(arg, ",")
		if len(parts) != 2 && len(parts) != 3 {
			return nil, fmt.Errorf("gps: static source wants lat,lon[,accuracy], got %q", arg)
		}
		vals := make([]float64, len(parts))
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("gps: static source: %w", err)
			}
			vals[i] = v
		}
		if err := validLatLon(vals[0], vals[1]); err != nil {
			return nil, fmt.Errorf("gps: static source: %w", err)
		}
		acc := defaultStaticAccuracy
		if len(vals) == 3 {
			acc = vals[2]
		}
		return NewStatic(vals[0], vals[1], acc), nil
	case "replay":
		if strings.TrimSpace(arg) == "" {
			return nil, fmt.Errorf("gps: replay source needs a file path")
		}
		return OpenReplay(strings.TrimSpace(arg))
	default:
		return nil, fmt.Errorf("gps: unknown source %q", kind)
	}
}

func validLatLon(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	return nil
}
