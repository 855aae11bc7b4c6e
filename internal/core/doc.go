// Package core provides the business logic for recovering damaged exports.
//
// The package sits between the transports (HTTP handlers in internal/web and
// the batch CLI in internal/cli) and the recovery parser, article mapping and
// store. It has no knowledge of HTTP.
//
// # Recovery Runs
//
// [Service.RecoverUpload] handles one file end to end:
//
//  1. Acquire a slot from the [RunLimiter] (bounded wait, then [ErrTooManyRuns])
//  2. Recover the file with the parser, reading at most the configured size
//  3. Write the clean table to <output dir>/<run id>.csv
//  4. Map records to articles and bulk-load them into the store
//  5. Record the run with its summary counts, duration and outcome
//
// A run that fails after step 1 is still recorded, with its error code, and
// never leaves an output file behind.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FILE001-FILE005: File errors (size, read, encoding, nothing recovered)
//   - REC001-REC003: Recovery errors (options, run lookup, output)
//   - DB001-DB004: Database errors
//   - UPL001-UPL003: Upload errors (busy, cancelled, timeout)
package core
