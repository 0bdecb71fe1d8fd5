// Package contact records the EphIDs a device hears and turns them into contacts.
//
// Scans accumulate in per-epoch buckets. When an epoch closes, a bucket becomes a
// confirmed contact only if its EphID was seen at least twice and the sightings
// span at least the contact threshold; everything else is dropped as noise (a
// passing car, a single stray beacon). Only the EphID, day, epoch and duration of
// a confirmed contact are kept, and only for the retention window.
package contact
