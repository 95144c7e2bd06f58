// Package pricecheck is the price-check engine: it picks the subscribers
// due for a check, fetches and records prices for the items they track,
// classifies every observation against the stored price and notifies the
// subscriber on change. It also hosts the history retention and currency
// refresh jobs.
//
// Failures are isolated: a failed item never stops the subscriber's other
// items and a failed subscriber never stops the tick.
package pricecheck
