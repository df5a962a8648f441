/*
Package log provides structured logging for the DWN core using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
per-component child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("authz")                   │          │
	│  │  - WithTenant("did:example:123")            │          │
	│  │  - WithInterface("Records", "Write")        │          │
	│  │  - WithMessageCID("bafy...")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "records-write",            │          │
	│  │    "tenant": "did:example:123",             │          │
	│  │    "messageCid": "bafy...",                 │          │
	│  │    "message": "record persisted"            │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-05-01T10:30:00Z INF record persisted  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every store, handler, and the dispatcher
  - Thread-safe concurrent writes

Log Levels:
  - Debug: per-message detail (descriptor fields, index keys touched)
  - Info: lifecycle events (ingest accepted/rejected, conflict resolved,
    subscription opened/closed)
  - Warn: recoverable anomalies (grant close to expiry, retrying a batch)
  - Error: unattributable failures (KV engine I/O, unexpected panics
    recovered at the dispatcher boundary)
  - Fatal: the node cannot continue (data directory unopenable)

Configuration:
  - Level: filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: tag logs with a store/handler name
  - WithTenant: tag logs with the tenant a message belongs to
  - WithInterface: tag logs with the (interface, method) pair a handler
    is processing
  - WithMessageCID: tag logs with a message's CID once it has been
    computed, so later lines about the same message correlate without
    repeating its full body

# Usage

Initializing the Logger:

	import "github.com/nodeledger/dwn-core/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("node opened")
	log.Debug("checking grant revocation")
	log.Warn("grant expires within one hour")
	log.Error("failed to open data directory")
	log.Fatal("cannot start without a writable data directory") // exits process

Structured Logging:

	log.Logger.Info().
		Str("tenant", tenant).
		Str("messageCid", cid).
		Msg("record persisted")

Context Loggers:

	writeLog := log.WithInterface("Records", "Write").WithTenant(tenant)
	writeLog.Info().Str("recordId", recordID).Msg("conflict resolved")

	subLog := log.WithComponent("eventstream").WithTenant(tenant)
	subLog.Info().Msg("subscription opened")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance, initialized once at startup,
    accessible from all packages without being passed around.

Context Logger Pattern:
  - Create child loggers with context fields (tenant, interface/method,
    messageCid) and pass them down into the store/handler call that
    needs them, instead of repeating fields at every call site.

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err) rather than string
    concatenation, so logs stay parseable by log aggregation tooling.

# Security

  - Never log signature bytes, private keys, or raw encoded data
    payloads — log the messageCid and descriptor fields instead.
  - Use structured fields (.Str, .Int) for any tenant-supplied value;
    never concatenate it directly into the message string.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
