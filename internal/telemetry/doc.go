// Package telemetry holds the sensor registry, the aggregation engine, the
// anomaly detector and the report generator. Every component works against
// the domain store ports and takes its clock, logger and metrics through its
// constructor.
package telemetry
