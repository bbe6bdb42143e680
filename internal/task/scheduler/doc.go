// Package scheduler triggers periodic jobs (price refresh, digest ticks) on
// cron expressions or fixed intervals, built on robfig/cron.
//
// Overlapping runs of the same schedule are skipped. Each run gets a context
// bounded by the schedule timeout and canceled when the scheduler stops.
package scheduler
