// Package schema defines the ledger's record types and partition naming.
//
// # Overview
//
// A ledger is shared between devices as a folder of monthly CSV partitions
// synced by a cloud-file provider. Two shapes of the same transaction exist:
//
//   - Transaction: the canonical entity held by the local store. References to
//     categories, payer and participants are identifiers; the amount is an
//     exact decimal.
//   - Record: the wire form written to the replica. Every field is a string
//     and references are resolved to display names so the files stay readable
//     and portable between devices that assign different local identifiers.
//
// # Partitions
//
// Records are bucketed by the calendar month of their business date:
//
//	transactions_2024-05.csv
//	transactions_2024-06.csv
//
// Use PartitionName to build a name and ParsePartitionName to recognise one.
//
// # Design Principles
//
//   - Flat string fields on the wire (last-write-wins per record)
//   - Participants are a set; JoinParticipants sorts and de-duplicates so equal
//     sets always encode to the same string
//   - ModifiedAt is bumped by Touch on every mutation and drives conflict
//     resolution in the merge package
package schema
