package models

import (
	"fmt"
	"time"
)

// Series identifies one ingested time series. Each series maps to its
// own storage table and real-time endpoint.
type Series string

const (
	SeriesLoad        Series = "load"
	SeriesForecast    Series = "forecast"
	SeriesFuelMix     Series = "fuelmix"
	SeriesRealtimeLMP Series = "realtime_expost_lmp"
	SeriesDayaheadLMP Series = "dayahead_exante_lmp"
)

// AllSeries lists every series in a stable order.
func AllSeries() []Series {
	return []Series{
		SeriesLoad,
		SeriesForecast,
		SeriesFuelMix,
		SeriesRealtimeLMP,
		SeriesDayaheadLMP,
	}
}

// Interval is a half-open UTC time window [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval normalizes both bounds to UTC and rejects windows where
// End is not strictly after Start.
func NewInterval(start, end time.Time) (Interval, error) {
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return Interval{}, fmt.Errorf("interval end %s is not after start %s", end, start)
	}
	return Interval{Start: start, End: end}, nil
}

// Duration returns the window length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Hub is one of the eight MISO aggregated pricing nodes. The set is
// closed: rows naming any other node are rejected during normalization
// and again by the storage-layer constraint.
type Hub string

const (
	HubArkansas  Hub = "ARKANSAS.HUB"
	HubIllinois  Hub = "ILLINOIS.HUB"
	HubIndiana   Hub = "INDIANA.HUB"
	HubLouisiana Hub = "LOUISIANA.HUB"
	HubMichigan  Hub = "MICHIGAN.HUB"
	HubMinn      Hub = "MINN.HUB"
	HubMs        Hub = "MS.HUB"
	HubTexas     Hub = "TEXAS.HUB"
)

// AllHubs lists the closed hub enumeration in a stable order.
func AllHubs() []Hub {
	return []Hub{
		HubArkansas,
		HubIllinois,
		HubIndiana,
		HubLouisiana,
		HubMichigan,
		HubMinn,
		HubMs,
		HubTexas,
	}
}

// Valid reports whether h is a member of the closed enumeration.
func (h Hub) Valid() bool {
	for _, known := range AllHubs() {
		if h == known {
			return true
		}
	}
	return false
}

// LoadRecord is one system-load observation.
type LoadRecord struct {
	Interval Interval `json:"interval"`
	Load     float64  `json:"load"`
}

// ForecastRecord is one medium-term load forecast value.
type ForecastRecord struct {
	Interval Interval `json:"interval"`
	Forecast float64  `json:"forecast"`
}

// FuelMixRecord is one generation fuel-mix observation. Every fuel
// field is independently nullable: nil means the source did not report
// that fuel for the interval, which is not the same as zero megawatts.
type FuelMixRecord struct {
	Interval   Interval `json:"interval"`
	Nuclear    *float64 `json:"nuclear"`
	Coal       *float64 `json:"coal"`
	NaturalGas *float64 `json:"natural_gas"`
	Wind       *float64 `json:"wind"`
	Solar      *float64 `json:"solar"`
	Imports    *float64 `json:"imports"`
	Other      *float64 `json:"other"`
	Total      *float64 `json:"total"`
}

// LmpRecord is one locational marginal price observation for a hub.
// The same shape serves both provenances: real-time ex-post rows from
// the API and day-ahead ex-ante rows from market report files.
type LmpRecord struct {
	Interval Interval `json:"interval"`
	Hub      Hub      `json:"node"`
	Lmp      float64  `json:"lmp"`
	Mcc      float64  `json:"mcc"`
	Mlc      float64  `json:"mlc"`
}
