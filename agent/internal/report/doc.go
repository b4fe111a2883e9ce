// Package report publishes the outcome of a detection run.
//
// Every destination implements Sink:
//   - FileWriter writes the report document (always, even when empty).
//   - Archive appends each record to a SQLite database with retention pruning.
//   - Notifier posts fired signals to Slack, Teams or generic HTTP webhooks.
//
// Multi fans a report out to several sinks and reports the first failure.
package report
