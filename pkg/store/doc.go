// Package store manages objects of a model on top of a persistent store.
//
// A Stack attaches the store and owns the main context. Contexts track
// inserted, updated and deleted objects until Save. Child contexts save into
// their parent; background contexts save straight to the store and have their
// commits merged into the main context through save notifications. Each
// context runs Perform blocks on its own serial queue and reports results
// through futures.
package store
