// Package ratchet provides the daily secret-key chain of a proxtrace device.
//
// The chain advances exactly one step per calendar day through a one-way function,
// so that a secret revealed for day t lets anyone recompute days t, t+1, ... but
// nothing before t. A bounded window of past secrets is kept in a ring buffer so a
// device can reveal the secret of its symptom-onset day; older secrets are evicted
// as the chain advances.
package ratchet
