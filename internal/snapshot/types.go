package snapshot

import "time"

type SourceType string

const (
	SourceBike       SourceType = "bike"
	SourceWeather    SourceType = "weather"
	SourceAirQuality SourceType = "air_quality"
	SourceBoundary   SourceType = "boundary"
)

// Raw is a collector payload before normalization. Payload keys vary per
// source; the normalizer converts it into one of the typed variants below
// and nothing downstream touches the open map again.
type Raw struct {
	Source     SourceType
	CapturedAt time.Time
	Payload    map[string]any
}

type VehicleStatus string

const (
	StatusAvailable   VehicleStatus = "available"
	StatusInUse       VehicleStatus = "in_use"
	StatusUnavailable VehicleStatus = "unavailable"
)

// Bike is one vehicle observation from a GBFS free_bike_status feed.
type Bike struct {
	VehicleID   string
	ProviderID  string
	VehicleType string
	Lat         float64
	Lon         float64
	Status      VehicleStatus
	ObservedAt  time.Time // UTC
}

// Weather is one station reading (temperature in °C, humidity in %).
type Weather struct {
	StationID   string
	City        string
	Lat         float64
	Lon         float64
	Temperature float64
	Humidity    float64
	ObservedAt  time.Time // UTC
}

// AirQuality is one sensor reading (WAQI-style AQI plus PM2.5 µg/m³).
type AirQuality struct {
	StationID  string
	City       string
	Lat        float64
	Lon        float64
	AQI        float64
	PM25       float64
	ObservedAt time.Time // UTC
}

// Boundary carries one municipality polygon. Rings are [lat, lon] pairs;
// the first ring is the outer shell, the rest are holes.
type Boundary struct {
	MunicipalityID string
	Name           string
	Canton         string
	Rings          [][][2]float64
}

// Batch holds the typed output of normalizing one run window.
type Batch struct {
	Bikes      []Bike
	Weather    []Weather
	AirQuality []AirQuality
	Boundaries []Boundary
}
