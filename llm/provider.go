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

package llm

import "context"

// Provider is one LLM backend, narrowed from
// orchestrator/llm/provider.go's Provider interface (which also carries
// streaming, health-check and config-reload methods the spec's gateway
// contract doesn't name) down to the single blocking completion call C14
// actually drives.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}
