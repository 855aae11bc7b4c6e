// Package recovery rebuilds a clean table from a damaged, doubly-delimited
// export.
//
// The damaged files this package handles were produced by an exporter that
// wrote a complete CSV file as the first column of a second, differently
// delimited file. Every physical line therefore looks like
//
//	date,country,"""media_outlet""",text,title,url;;;
//
// where the outer delimiter (';' by default) frames a payload that is itself
// an inner-delimited record. Some payloads were truncated or mangled on the way
// and can no longer be parsed; those lines are skipped and counted rather than
// failing the whole load.
//
// # Pipeline
//
// A run moves through fixed stages, each exposed as a function so it can be
// exercised on its own:
//
//  1. [LoadFrame] splits the raw bytes into lines, decodes them with the
//     configured [Codec] and keeps the text before the first outer delimiter.
//     Blank payloads are discarded.
//  2. [Reassemble] joins the surviving payloads with newlines, restoring the
//     inner file line for line.
//  3. [ParseTolerant] takes the first line as the header and tokenizes every
//     other line with [SplitRecord]. Lines whose field count differs from the
//     header, or that cannot be tokenized, become a [Skip].
//  4. [Normalize] cleans the column names with [NormalizeColumnName].
//  5. [WriteFile] writes the clean table atomically.
//
// [Parser] wires the stages together and reports a [Summary].
//
// # Errors
//
// Only per-line shape problems are recovered locally. Everything else is
// returned to the caller wrapped in a [*StageError]:
//
//   - [*IOError]: the file cannot be opened, read or written
//   - [*EncodingError]: a byte or rune cannot be mapped under a strict encoding
//   - [*EmptyResultError]: no usable rows, no header, or no accepted records
//
// When [Parser.Run] fails, no output file is left behind.
//
// # Column names
//
// After normalization two columns may end up with the same name. They are kept
// as-is; lookups by name resolve to the last such column and the duplicates are
// listed in [Summary.DuplicateColumns].
package recovery
