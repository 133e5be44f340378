package trips

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"mobility-warehouse/internal/snapshot"
)

// tripNamespace seeds the SHA1 UUID so trip IDs are stable across runs and
// across deployments. Reprocessing the same snapshot window yields the same
// trip_id for the same (provider, vehicle, start_time).
var tripNamespace = uuid.MustParse("7f9a4dd0-3c55-4d8a-9e2c-1b6f08d54c21")

// VehicleKey identifies a vehicle. Providers share vehicle_id namespaces,
// so identity is the composite of both.
type VehicleKey struct {
	ProviderID string
	VehicleID  string
}

// Trip is one reconstructed rental, bounded by a vehicle's in_use window.
type Trip struct {
	TripID      string
	VehicleID   string
	ProviderID  string
	VehicleType string
	StartLat    float64
	StartLon    float64
	EndLat      float64
	EndLon      float64
	StartTime   time.Time
	EndTime     time.Time
	DistanceKm  float64
	DurationMin float64
}

// AnomalyReason codes discarded trip candidates for the run report.
type AnomalyReason string

const (
	AnomalyExcessiveDuration AnomalyReason = "excessive_duration"
	AnomalyZeroDuration      AnomalyReason = "zero_duration"
	AnomalyUnpairedOpen      AnomalyReason = "unpaired_open"
)

// Anomaly is a discarded candidate. Logged and counted, never fatal.
type Anomaly struct {
	Vehicle VehicleKey
	Reason  AnomalyReason
	StartAt time.Time
}

func (a Anomaly) String() string {
	return fmt.Sprintf("trip anomaly %s vehicle=%s/%s start=%s",
		a.Reason, a.Vehicle.ProviderID, a.Vehicle.VehicleID, a.StartAt.Format(time.RFC3339))
}

// openTrip is a candidate opened by an available->in_use transition.
type openTrip struct {
	startLat, startLon float64
	startTime          time.Time
	vehicleType        string
}

// Reconstructor derives trips from consecutive bike snapshots. The
// per-vehicle last-seen state is explicit so a window can be processed in
// vehicle-partitioned batches and the state inspected in tests.
type Reconstructor struct {
	MaxDuration time.Duration // candidates longer than this are sensor noise

	lastStatus map[VehicleKey]snapshot.VehicleStatus
	open       map[VehicleKey]openTrip
}

func NewReconstructor(maxDuration time.Duration) *Reconstructor {
	if maxDuration <= 0 {
		maxDuration = 24 * time.Hour
	}
	return &Reconstructor{
		MaxDuration: maxDuration,
		lastStatus:  make(map[VehicleKey]snapshot.VehicleStatus),
		open:        make(map[VehicleKey]openTrip),
	}
}

// Process consumes one window of bike snapshots and returns the closed
// trips plus the discarded candidates. Snapshots are grouped per vehicle
// and sorted by observed_at before the transitions are replayed; across
// vehicles no ordering is required.
func (r *Reconstructor) Process(bikes []snapshot.Bike) ([]Trip, []Anomaly) {
	byVehicle := make(map[VehicleKey][]snapshot.Bike)
	for _, b := range bikes {
		k := VehicleKey{ProviderID: b.ProviderID, VehicleID: b.VehicleID}
		byVehicle[k] = append(byVehicle[k], b)
	}

	var trips []Trip
	var anomalies []Anomaly
	for key, obs := range byVehicle {
		sort.Slice(obs, func(i, j int) bool { return obs[i].ObservedAt.Before(obs[j].ObservedAt) })
		for _, b := range obs {
			t, a, ok := r.observe(key, b)
			if a != nil {
				anomalies = append(anomalies, *a)
			}
			if ok {
				trips = append(trips, t)
			}
		}
	}

	// Deterministic output order regardless of map iteration.
	sort.Slice(trips, func(i, j int) bool {
		if !trips[i].StartTime.Equal(trips[j].StartTime) {
			return trips[i].StartTime.Before(trips[j].StartTime)
		}
		return trips[i].TripID < trips[j].TripID
	})
	return trips, anomalies
}

// observe replays one snapshot through the per-vehicle state machine.
func (r *Reconstructor) observe(key VehicleKey, b snapshot.Bike) (Trip, *Anomaly, bool) {
	prev, seen := r.lastStatus[key]
	r.lastStatus[key] = b.Status

	switch {
	case b.Status == snapshot.StatusInUse && (!seen || prev != snapshot.StatusInUse):
		// A vehicle has at most one open trip; a second in_use transition
		// without a close replaces the stale candidate.
		r.open[key] = openTrip{
			startLat:    b.Lat,
			startLon:    b.Lon,
			startTime:   b.ObservedAt,
			vehicleType: b.VehicleType,
		}
	case b.Status != snapshot.StatusInUse && seen && prev == snapshot.StatusInUse:
		o, hasOpen := r.open[key]
		if !hasOpen {
			return Trip{}, nil, false
		}
		delete(r.open, key)
		return r.close(key, o, b)
	}
	return Trip{}, nil, false
}

func (r *Reconstructor) close(key VehicleKey, o openTrip, end snapshot.Bike) (Trip, *Anomaly, bool) {
	dur := end.ObservedAt.Sub(o.startTime)
	if dur <= 0 {
		a := &Anomaly{Vehicle: key, Reason: AnomalyZeroDuration, StartAt: o.startTime}
		log.Printf("%s", a)
		return Trip{}, a, false
	}
	if dur > r.MaxDuration {
		a := &Anomaly{Vehicle: key, Reason: AnomalyExcessiveDuration, StartAt: o.startTime}
		log.Printf("%s", a)
		return Trip{}, a, false
	}
	return Trip{
		TripID:      TripID(key, o.startTime),
		VehicleID:   key.VehicleID,
		ProviderID:  key.ProviderID,
		VehicleType: o.vehicleType,
		StartLat:    o.startLat,
		StartLon:    o.startLon,
		EndLat:      end.Lat,
		EndLon:      end.Lon,
		StartTime:   o.startTime,
		EndTime:     end.ObservedAt,
		DistanceKm:  HaversineKm(o.startLat, o.startLon, end.Lat, end.Lon),
		DurationMin: dur.Minutes(),
	}, nil, true
}

// DrainOpen discards candidates left open at the window boundary and
// reports them as anomalies. Call once after the last batch of a run.
func (r *Reconstructor) DrainOpen() []Anomaly {
	var anomalies []Anomaly
	for key, o := range r.open {
		anomalies = append(anomalies, Anomaly{Vehicle: key, Reason: AnomalyUnpairedOpen, StartAt: o.startTime})
	}
	r.open = make(map[VehicleKey]openTrip)
	return anomalies
}

// TripID is a deterministic function of vehicle identity and start time.
func TripID(key VehicleKey, start time.Time) string {
	name := fmt.Sprintf("%s/%s/%d", key.ProviderID, key.VehicleID, start.UTC().UnixNano())
	return uuid.NewSHA1(tripNamespace, []byte(name)).String()
}

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
