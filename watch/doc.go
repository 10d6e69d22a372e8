// Package watch registers, lists and disables vendor watch subscriptions.
//
// Subscriptions are validated locally before any request is sent, so a bad
// channel id or notify URL never reaches the vendor. Vendor side state is
// not mirrored: registering the same channel again is the recovery path.
package watch
