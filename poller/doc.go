// Package poller detects market changes by polling the quote store on a
// fixed cadence and publishing one delta envelope per new observation.
// Each symbol carries its own time watermark so a failed fetch for one
// symbol never stalls the others.
package poller
