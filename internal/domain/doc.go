// Package domain models wall-mounted temperature sensors and their readings.
//
// # Sensors
//
// A sensor is identified by a five digit integer in [10000, 99999] and is
// mounted on one of four faces of the building:
//
//	North = 10 | West = 20 | East = 30 | South = 40
//
// The integer codes are the wire and storage encoding of [Face]. They are
// produced by [Face.Code] and decoded by [ParseFace]; nothing else in the
// module converts faces to or from integers.
//
// A registered sensor starts in [StateOK] with no outlier flag and a zero
// last-update time. The only automatic state transition is OK → Faulty,
// performed by the stale-sensor scan when a sensor has not reported within the
// configured freshness window. Re-enabling a faulty sensor is an operator
// action outside this service.
//
// # Readings
//
// A reading is (sensor, unix timestamp, temperature). Readings are append-only
// and are only accepted for registered sensors in [StateOK]. There is no
// physical range check on temperature; any finite value is valid.
//
// Readings older than the retention window (24h by default) are purged by a
// background reaper; the store itself has no TTL.
//
// # Windows
//
// All averaging queries are bounded by a half-open [Window]:
//
//	Start <= timestamp < Start + Length
//
// An empty window yields "no data" (ok == false), which is distinct from an
// average of zero and is never an error.
package domain
