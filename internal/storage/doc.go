// Package storage is the subscription store: users, tracked items, the
// user/item subscriptions between them and append-only price history.
//
// The only backend is SQLite (modernc.org/sqlite, pure Go). Item
// get-or-create and delete-on-orphan run inside transactions so concurrent
// subscribers never see duplicate or dangling items.
package storage
