package snapshot

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Switzerland bounding box. Coordinates outside it are collector noise
// (GPS glitches, providers testing abroad) and are dropped, not fatal.
const (
	MinLat = 45.8
	MaxLat = 47.9
	MinLon = 5.9
	MaxLon = 10.5
)

// ValidationError describes a dropped record. It is counted, never fatal.
type ValidationError struct {
	Source SourceType
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s snapshot: field %q %s", e.Source, e.Field, e.Reason)
}

// Stats counts records dropped during normalization, by reason.
type Stats struct {
	OutOfRange    int
	MissingField  int
	BadTimestamp  int
	NotFinite     int
	UnknownSource int
}

func (s Stats) Dropped() int {
	return s.OutOfRange + s.MissingField + s.BadTimestamp + s.NotFinite + s.UnknownSource
}

func (s *Stats) add(other Stats) {
	s.OutOfRange += other.OutOfRange
	s.MissingField += other.MissingField
	s.BadTimestamp += other.BadTimestamp
	s.NotFinite += other.NotFinite
	s.UnknownSource += other.UnknownSource
}

// Normalize converts raw collector payloads into the closed set of typed
// variants. Invalid records are dropped and counted; the survivors carry
// UTC timestamps and coordinates inside the Swiss bounding box.
func Normalize(raws []Raw) (Batch, Stats) {
	var batch Batch
	var stats Stats
	for _, raw := range raws {
		var st Stats
		switch raw.Source {
		case SourceBike:
			if b, err := normalizeBike(raw); err == nil {
				batch.Bikes = append(batch.Bikes, b)
			} else {
				st = countDrop(raw, err)
			}
		case SourceWeather:
			if w, err := normalizeWeather(raw); err == nil {
				batch.Weather = append(batch.Weather, w)
			} else {
				st = countDrop(raw, err)
			}
		case SourceAirQuality:
			if a, err := normalizeAirQuality(raw); err == nil {
				batch.AirQuality = append(batch.AirQuality, a)
			} else {
				st = countDrop(raw, err)
			}
		case SourceBoundary:
			if b, err := normalizeBoundary(raw); err == nil {
				batch.Boundaries = append(batch.Boundaries, b)
			} else {
				st = countDrop(raw, err)
			}
		default:
			st.UnknownSource++
			log.Printf("normalize: unknown source_type %q, dropping", raw.Source)
		}
		stats.add(st)
	}
	return batch, stats
}

func countDrop(raw Raw, err error) Stats {
	var st Stats
	ve, ok := err.(*ValidationError)
	if !ok {
		st.MissingField++
		return st
	}
	switch ve.Reason {
	case "out of range":
		st.OutOfRange++
	case "not finite":
		st.NotFinite++
	case "naive timestamp", "unparseable timestamp":
		st.BadTimestamp++
	default:
		st.MissingField++
	}
	return st
}

type bikeWire struct {
	BikeID      string  `mapstructure:"bike_id"`
	ProviderID  string  `mapstructure:"provider_id"`
	VehicleType string  `mapstructure:"vehicle_type"`
	Lat         float64 `mapstructure:"lat"`
	Lon         float64 `mapstructure:"lon"`
	IsReserved  bool    `mapstructure:"is_reserved"`
	IsDisabled  bool    `mapstructure:"is_disabled"`
	Timestamp   string  `mapstructure:"timestamp"`
}

func normalizeBike(raw Raw) (Bike, error) {
	var w bikeWire
	if err := decodePayload(raw, &w); err != nil {
		return Bike{}, err
	}
	if w.BikeID == "" {
		return Bike{}, &ValidationError{Source: raw.Source, Field: "bike_id", Reason: "missing"}
	}
	if w.ProviderID == "" {
		return Bike{}, &ValidationError{Source: raw.Source, Field: "provider_id", Reason: "missing"}
	}
	if err := checkCoords(raw.Source, w.Lat, w.Lon); err != nil {
		return Bike{}, err
	}
	ts, err := resolveTimestamp(raw, w.Timestamp)
	if err != nil {
		return Bike{}, err
	}
	vt := strings.ToLower(strings.TrimSpace(w.VehicleType))
	if vt == "" {
		vt = "bike"
	}
	status := StatusAvailable
	switch {
	case w.IsDisabled:
		status = StatusUnavailable
	case w.IsReserved:
		status = StatusInUse
	}
	return Bike{
		VehicleID:   w.BikeID,
		ProviderID:  w.ProviderID,
		VehicleType: vt,
		Lat:         w.Lat,
		Lon:         w.Lon,
		Status:      status,
		ObservedAt:  ts,
	}, nil
}

type weatherWire struct {
	StationID   string  `mapstructure:"station_id"`
	City        string  `mapstructure:"city"`
	Lat         float64 `mapstructure:"lat"`
	Lon         float64 `mapstructure:"lon"`
	Temperature float64 `mapstructure:"temperature"`
	Humidity    float64 `mapstructure:"humidity"`
	Timestamp   string  `mapstructure:"timestamp"`
}

func normalizeWeather(raw Raw) (Weather, error) {
	var w weatherWire
	if err := decodePayload(raw, &w); err != nil {
		return Weather{}, err
	}
	if w.StationID == "" && w.City == "" {
		return Weather{}, &ValidationError{Source: raw.Source, Field: "station_id", Reason: "missing"}
	}
	if err := checkCoords(raw.Source, w.Lat, w.Lon); err != nil {
		return Weather{}, err
	}
	if err := checkFinite(raw.Source, "temperature", w.Temperature); err != nil {
		return Weather{}, err
	}
	ts, err := resolveTimestamp(raw, w.Timestamp)
	if err != nil {
		return Weather{}, err
	}
	station := w.StationID
	if station == "" {
		station = strings.ToLower(w.City)
	}
	return Weather{
		StationID:   station,
		City:        w.City,
		Lat:         w.Lat,
		Lon:         w.Lon,
		Temperature: w.Temperature,
		Humidity:    w.Humidity,
		ObservedAt:  ts,
	}, nil
}

type airWire struct {
	StationID string  `mapstructure:"station_id"`
	City      string  `mapstructure:"city"`
	Lat       float64 `mapstructure:"lat"`
	Lon       float64 `mapstructure:"lon"`
	AQI       float64 `mapstructure:"aqi"`
	PM25      float64 `mapstructure:"pm25"`
	Timestamp string  `mapstructure:"timestamp"`
}

func normalizeAirQuality(raw Raw) (AirQuality, error) {
	var w airWire
	if err := decodePayload(raw, &w); err != nil {
		return AirQuality{}, err
	}
	if w.StationID == "" && w.City == "" {
		return AirQuality{}, &ValidationError{Source: raw.Source, Field: "station_id", Reason: "missing"}
	}
	if err := checkCoords(raw.Source, w.Lat, w.Lon); err != nil {
		return AirQuality{}, err
	}
	if err := checkFinite(raw.Source, "aqi", w.AQI); err != nil {
		return AirQuality{}, err
	}
	ts, err := resolveTimestamp(raw, w.Timestamp)
	if err != nil {
		return AirQuality{}, err
	}
	station := w.StationID
	if station == "" {
		station = strings.ToLower(w.City)
	}
	return AirQuality{
		StationID:  station,
		City:       w.City,
		Lat:        w.Lat,
		Lon:        w.Lon,
		AQI:        w.AQI,
		PM25:       w.PM25,
		ObservedAt: ts,
	}, nil
}

type boundaryWire struct {
	MunicipalityID string         `mapstructure:"municipality_id"`
	Name           string         `mapstructure:"name"`
	Canton         string         `mapstructure:"canton"`
	Rings          [][][2]float64 `mapstructure:"rings"`
}

func normalizeBoundary(raw Raw) (Boundary, error) {
	var w boundaryWire
	if err := decodePayload(raw, &w); err != nil {
		return Boundary{}, err
	}
	if w.MunicipalityID == "" {
		return Boundary{}, &ValidationError{Source: raw.Source, Field: "municipality_id", Reason: "missing"}
	}
	if len(w.Rings) == 0 || len(w.Rings[0]) < 3 {
		return Boundary{}, &ValidationError{Source: raw.Source, Field: "rings", Reason: "missing"}
	}
	for _, ring := range w.Rings {
		for _, pt := range ring {
			if math.IsNaN(pt[0]) || math.IsInf(pt[0], 0) || math.IsNaN(pt[1]) || math.IsInf(pt[1], 0) {
				return Boundary{}, &ValidationError{Source: raw.Source, Field: "rings", Reason: "not finite"}
			}
		}
	}
	return Boundary{
		MunicipalityID: w.MunicipalityID,
		Name:           w.Name,
		Canton:         w.Canton,
		Rings:          w.Rings,
	}, nil
}

// decodePayload binds the loose payload map onto a wire struct.
// WeaklyTypedInput tolerates collectors sending numbers as strings.
func decodePayload(raw Raw, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(raw.Payload); err != nil {
		return &ValidationError{Source: raw.Source, Field: "payload", Reason: "undecodable"}
	}
	return nil
}

func checkCoords(src SourceType, lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return &ValidationError{Source: src, Field: "lat/lon", Reason: "not finite"}
	}
	if lat < MinLat || lat > MaxLat || lon < MinLon || lon > MaxLon {
		return &ValidationError{Source: src, Field: "lat/lon", Reason: "out of range"}
	}
	return nil
}

func checkFinite(src SourceType, field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Source: src, Field: field, Reason: "not finite"}
	}
	return nil
}

// resolveTimestamp prefers an explicit payload timestamp over the capture
// time. Payload timestamps must carry a zone offset; naive local times are
// rejected because the collectors span UTC and Europe/Zurich.
func resolveTimestamp(raw Raw, payloadTS string) (time.Time, error) {
	if payloadTS == "" {
		if raw.CapturedAt.IsZero() {
			return time.Time{}, &ValidationError{Source: raw.Source, Field: "timestamp", Reason: "missing"}
		}
		return raw.CapturedAt.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, payloadTS); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if _, err := time.Parse(layout, payloadTS); err == nil {
			return time.Time{}, &ValidationError{Source: raw.Source, Field: "timestamp", Reason: "naive timestamp"}
		}
	}
	return time.Time{}, &ValidationError{Source: raw.Source, Field: "timestamp", Reason: "unparseable timestamp"}
}
