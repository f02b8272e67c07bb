// Package cmd implements the command-line interface of rtget. It runs shards
// in-process to exercise the live version map under load.
//
// The package is organized into several subpackages:
//
//   - simulate: Runs concurrent writers and real-time readers against a shard
//     and checks that every acknowledged write is visible to get
//   - perf: Benchmarks the shard operations (index, get, delete, refresh)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See rtget -help for a list of all commands.
package cmd
