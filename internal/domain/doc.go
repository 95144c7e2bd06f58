// Package domain holds the shared vocabulary of pricewatch: subscribers,
// tracked items, price observations, the due-for-check rule and the error
// types the rest of the module reports with.
package domain
