// Package core implements the CNPJ ingestion pipeline.
//
// Receita Federal publishes the CNPJ registry as ZIP archives of large
// ';'-delimited, Latin-1 encoded flat files. This package turns those
// archives into rows in PostgreSQL and is independent of the CLI and the
// HTTP endpoint that drive it.
//
// # Pipeline
//
//  1. [Extractor.Extract] pulls the entries whose names carry a known
//     marker (EMPRECSV for companies, ESTABELE for establishments) out of
//     every archive in a directory.
//  2. [ParseCompanies] and [ParseEstablishments] stream typed records out
//     of an extracted file. Malformed lines surface as [*LineError] and
//     are skipped; the sequence continues.
//  3. [Sanitize] strips control characters PostgreSQL text columns reject.
//  4. [Loader] buffers records and writes each batch in its own
//     transaction through [Store], rolling back and stopping on failure
//     with a [*BatchError].
//
// # Memory
//
// Loading holds at most one batch ([DefaultBatchSize] records) in memory
// regardless of file size. Each batch is inserted with a single
// multi-row statement.
//
// # Errors
//
//   - Connectivity: [OpenStore] fails; nothing else should run.
//   - Archive: unreadable archives and entries are logged and skipped.
//   - Parse: bad lines are counted in [LoadResult.SkippedLines].
//   - Load: the batch is rolled back and the error is returned.
package core
