// Package epoch provides the calendar arithmetic shared by every proxtrace component.
//
// Time is divided into UTC calendar days (Day, counted from 1970-01-01) and each day
// into a fixed number of equally sized epochs (Index). An epoch is the unit of
// identifier rotation; a day is the unit of secret-key rotation and retention.
package epoch
