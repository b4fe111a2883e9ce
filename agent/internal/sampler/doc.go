// Package sampler drives a detection run: a fixed number of rounds, each
// fetching every registered service once and feeding the snapshot through
// the detection engine.
//
// A service that fails to fetch, decode or process becomes a FetchFailure
// record for that round; the remaining services are still sampled. The
// baseline store is persisted after every round so an interrupted run keeps
// the history it gathered.
package sampler
