// Package cache stores the most recent Polestar API payloads for each vehicle.
//
// A [Table] holds one [Entry] per (VIN, [Kind]) pair. Entries are written whole when a fetch
// succeeds and are never overwritten by a failed fetch, so readers always see the last good
// payload or nothing. Field values are read with [Table.Get], which resolves a '/'-delimited path
// such as "eventUpdatedTimestamp/iso" against the payload.
//
// Get distinguishes three outcomes. Missing means there is no usable value: the pair was never
// fetched, the entry is older than the table's TTL, or the path does not resolve. Empty means the
// API was queried and returned null. Found carries the value.
//
// Entries live for the lifetime of the process. [Table.Export] writes a snapshot for diagnostics;
// there is no corresponding import.
package cache
