// Package common provides the configuration and logging shared by the
// version map, the shard harness and the command line interface.
//
// Key Components:
//
//   - Config: configuration of a shard (refresh cadence, refresh RAM threshold,
//     tombstone prune cadence and retention, log level). Validate rejects
//     unusable values and String renders a sectioned overview.
//
//   - Logger: a zerolog backed implementation of dragonboat's logger.ILogger.
//     Packages obtain their logger once with logger.GetLogger(name); InitLoggers
//     installs the factory and sets the level for every package in Packages.
package common
