// Package storage persists the price catalogue, subscribers and their
// subscriptions in a single SQLite database.
//
// The catalogue is append-or-replace only. A subscription set is always
// replaced as a whole inside one transaction; the dispatcher only ever writes
// the last-delivered message pointer.
package storage
