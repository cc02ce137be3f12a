// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging correlated by query/trace id
for the query orchestration pipeline.

# Overview

The logger package provides structured logging that writes JSON through
the standard library's log package (stderr unless log.SetOutput redirects
it), making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (orchestrator, pool, breaker, etc.)
  - Instance ID and container name (for distributed tracing)
  - Query ID (correlates all lines for one request)
  - Trace ID (observability correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("orchestrator")

Log messages with query/trace context:

	log.Info(state.QueryID, state.TraceID, "node completed", map[string]interface{}{
	    "stage": "generate_sql",
	})

Log errors with a normalized error code:

	log.ErrorWithCode(state.QueryID, state.TraceID, "node failed", 500, err, map[string]interface{}{
	    "stage": "execute",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration(state.QueryID, state.TraceID, "node completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Each entry is one line: the log package's date/time prefix followed by a
JSON object:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"orchestrator","instance_id":"i-abc123","container":"orchestrator-xyz",
	 "query_id":"q-123","trace_id":"t-456",
	 "message":"node completed","fields":{"stage":"generate_sql"}}

# Environment Variables

The logger reads this environment variable:

  - INSTANCE_ID: Deployment instance identifier

The container name is taken from os.Hostname().

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
