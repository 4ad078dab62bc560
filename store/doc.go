// Package store is the read contract against the source-of-truth market
// database. The change detector polls it for quote deltas and the
// admission gate resolves watchlist ownership through it. tickstream
// never writes quotes or watchlists; ingestion and CRUD are owned by
// other services.
package store
