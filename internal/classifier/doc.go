// Package classifier assigns fingerprinted media items to named groups.
//
// A Classifier is a pure function of the fingerprint: the same content always
// lands in the same group, or in no group at all. Items that match no group
// are collected by the scan engine as "others".
package classifier
