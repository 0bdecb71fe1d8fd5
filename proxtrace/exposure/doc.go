// Package exposure matches revealed diagnosis secrets against a device's contacts.
//
// Given the secret a diagnosed user held on their onset day, the matcher ratchets
// it forward one day at a time, regenerates that day's EphIDs and looks each one
// up in the local contact store. Only contacts that passed the debounce filter
// count. Matching is a pure read: it can be cancelled and repeated at will.
package exposure
