// Package scheduler triggers named jobs on cron expressions or fixed
// intervals (robfig/cron) in a configured timezone.
//
// Every job has a run state: a trigger that fires while the previous run is
// still in flight is skipped, not queued. Jobs run with a per-job timeout
// and panic recovery; results feed a bounded history for the status API.
package scheduler
