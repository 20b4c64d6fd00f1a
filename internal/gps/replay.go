package gps

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Replay plays back a recorded track one fix per call, wrapping around at the
// end. The track uses the columns timestamp,latitude,longitude,accuracy; the
// header row and the timestamp column are optional.
type Replay struct {
	mu    sync.Mutex
	fixes []Fix
	next  int
	now   func() time.Time
}

func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gps: open replay: %w", err)
	}
	defer f.Close()
	return LoadReplay(f)
}

func LoadReplay(r io.Reader) (*Replay, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var fixes []Fix
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gps: read replay: %w", err)
		}
		line++
		if line == 1 && isHeader(rec) {
			continue
		}
		fix, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("gps: replay line %d: %w", line, err)
		}
		fixes = append(fixes, fix)
	}
	if len(fixes) == 0 {
		return nil, fmt.Errorf("gps: replay track is empty")
	}
	return &Replay{fixes: fixes, now: time.Now}, nil
}

func isHeader(rec []string) bool {
	for _, f := range rec {
		if strings.EqualFold(strings.TrimSpace(f), "latitude") {
			return true
		}
	}
	return false
}

// parseRecord accepts lat,lon | lat,lon,acc | ts,lat,lon,acc.
func parseRecord(rec []string) (Fix, error) {
	var fields []string
	switch len(rec) {
	case 2, 3:
		fields = rec
	case 4:
		fields = rec[1:]
	default:
		return Fix{}, fmt.Errorf("want 2 to 4 columns, got %d", len(rec))
	}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Fix{}, err
		}
		vals[i] = v
	}
	if err := validLatLon(vals[0], vals[1]); err != nil {
		return Fix{}, err
	}
	fix := Fix{Latitude: vals[0], Longitude: vals[1]}
	if len(vals) == 3 {
		fix.Accuracy = vals[2]
	}
	return fix, nil
}

func (r *Replay) Available() bool { return true }

func (r *Replay) Fix(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fix := r.fixes[r.next]
	r.next = (r.next + 1) % len(r.fixes)
	fix.At = r.now()
	return fix, nil
}

// Len is the number of fixes in the track.
func (r *Replay) Len() int { return len(r.fixes) }
