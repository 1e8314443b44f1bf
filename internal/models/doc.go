// Package models defines the core domain models for SplitScribe.
//
// # Records
//
// The following models are persisted by the storage layer:
//   - Person: a member that can be assigned a share (owned by the roster directory)
//   - Expense: one scanned bill, created exactly once per pipeline run
//   - Split: one person's share of an expense
//
// # Transient models
//
//   - Bill and LineItem: the itemized bill as read by the model, stored inside Expense
//   - AllocationResult: the model's answer, either an error message or an expense with splits
//
// # Money
//
// All monetary values are integers in the smallest currency unit (cents). The only supported
// currency is USD.
//
// # Design Principles
//
//  1. **Cents everywhere**: no float amounts cross a package boundary
//  2. **Avoid circular references**: Use ID strings instead of pointers for relationships
//  3. **Wire names**: JSON tags match the allocation schema the model is given
package models
