// Package core provides the business logic for versioned domains.
//
// This package holds all domain logic independent of any transport layer.
// It can be used by web handlers, the CLI, or tests without modification.
//
// # Architecture
//
//   - Domains: tenant-scoped tables identified by a business key.
//   - Ingest: decodes a blob into records and upserts them losslessly,
//     extending colliding keys with the row index instead of overwriting.
//   - Clean: applies the domain's enabled rules to every current row,
//     snapshotting each pre-image into history under a new version.
//   - Diff/Preview: read-only views over current rows and history.
//   - Compile: natural-language rule compilation and non-persistent preview.
//
// # Concurrency
//
// Ingest and clean runs pass through a [RunLimiter] (process-wide cap) and a
// per-domain lock. Mutations run in a single Store transaction that also
// takes the Store's domain lock, so two instances sharing a database are
// serialized as well.
//
// # Error Handling
//
// Service methods return apperr kinds, codec.DecodeError and
// rules.ValidationError. [MapError] turns any of them into a [UserMessage]
// with a support code:
//
//   - DOM: domain lookups and naming
//   - RULE: rule validation
//   - FILE: blob and decode failures
//   - RUN: run limits, timeouts and cancellation
//   - DB: store failures
//   - DEP: external collaborators
//   - AUTH: tenant and role checks
package core
