// Package sync reconciles a device's local ledger with the shared replica.
//
// Overview
//
// Every device keeps its own store and writes the same partition files into a
// folder mirrored by a cloud-file provider. There is no server and no lock
// across devices: divergent edits are reconciled record by record with the
// merge package the next time a device runs a full sync.
//
// Architecture
//
//	Local store (SQLite)
//	     ↑  import (insert new, save newer)
//	     ↓  rewrite (grouped by month)
//	Orchestrator ── merge.MergeWithOptions
//	     ↕
//	replica.Backend
//	     ├── transactions_2024-05.csv
//	     ├── transactions_2024-05 2.csv   → conflict copy, merged then removed
//	     └── transactions_2024-06.csv
//
// A full sync runs three steps:
//
//  1. Conflict copies left by the provider are merged pairwise into their
//     canonical partition and removed.
//  2. Every partition is read (concurrently) and the union of remote records
//     is merged against the local store; new records are inserted and
//     records whose remote copy won are saved.
//  3. The store is re-encoded per month and each partition whose bytes
//     changed is rewritten atomically.
//
// Usage
//
//	o := sync.New(database, database, folder, nil)
//	report, err := o.FullSync(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("added=%d updated=%d\n", report.Added, report.Updated)
//
// Incremental write after a local edit:
//
//	tx.Touch()
//	if err := database.Save(ctx, tx); err != nil {
//	    return err
//	}
//	if err := o.WriteIncremental(ctx, tx); err != nil {
//	    return err
//	}
//
// Concurrency
//
// One orchestrator runs at most one full sync at a time; a concurrent call
// returns ErrSyncInProgress. All replica writes of an orchestrator, full or
// incremental, are serialized. Config.LockPath extends this to processes on
// the same device. The merge itself is pure and holds no state.
//
// Errors
//
// A missing or signed-out replica fails immediately with an error for which
// IsFatal is true. Rows that cannot be decoded or imported are logged and
// counted in Report.Skipped; they do not fail the sync. Any failure leaves
// the replica and store consistent enough to simply run the sync again.
package sync
