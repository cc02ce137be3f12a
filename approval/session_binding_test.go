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

package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testSecret = []byte("test-signing-secret")

func TestVerify_MatchingBindingSucceeds(t *testing.T) {
	policy := BindingPolicy{Secret: testSecret, IPTolerance: IPToleranceStrict}
	recorded := NewBinding(policy, "sess1", "user1", "203.0.113.5", "Mozilla/5.0 Chrome/120.0")

	err := Verify(policy, recorded, recorded)
	assert.NoError(t, err)
}

func TestVerify_DifferentSessionFails(t *testing.T) {
	policy := BindingPolicy{Secret: testSecret, IPTolerance: IPToleranceStrict}
	recorded := NewBinding(policy, "sess1", "user1", "203.0.113.5", "Mozilla/5.0 Chrome/120.0")
	presented := NewBinding(policy, "sess2", "user1", "203.0.113.5", "Mozilla/5.0 Chrome/120.0")

	err := Verify(policy, recorded, presented)
	assert.ErrorIs(t, err, ErrBindingMismatch)
}

func TestVerify_StrictIPRejectsDifferentAddress(t *testing.T) {
	policy := BindingPolicy{Secret: testSecret, IPTolerance: IPToleranceStrict}
	recorded := NewBinding(policy, "sess1", "user1", "203.0.113.5", "Mozilla/5.0 Chrome/120.0")
	presented := NewBinding(policy, "sess1", "user1", "203.0.113.6", "Mozilla/5.0 Chrome/120.0")

	err := Verify(policy, recorded, presented)
	assert.ErrorIs(t, err, ErrBindingMismatch)
}

func TestVerify_SubnetToleranceAllowsSameC24(t *testing.T) {
	policy := BindingPolicy{Secret: testSecret, IPTolerance: IPToleranceSubnet}
	recorded := Binding{SessionID: "sess1", UserID: "user1", IPAddress: "203.0.113.5", UserAgent: "Mozilla/5.0 Chrome/120.0"}
	recorded.Fingerprint = Fingerprint(policy.Secret, recorded.SessionID, recorded.IPAddress, recorded.UserAgent)

	presented := recorded
	presented.IPAddress = "203.0.113.250"
	presented.Fingerprint = Fingerprint(policy.Secret, presented.SessionID, presented.IPAddress, presented.UserAgent)

	err := Verify(policy, recorded, presented)
	assert.NoError(t, err)
}

func TestVerify_DifferentBrowserFamilyFails(t *testing.T) {
	policy := BindingPolicy{Secret: testSecret, IPTolerance: IPToleranceNone}
	recorded := NewBinding(policy, "sess1", "user1", "203.0.113.5", "Mozilla/5.0 Chrome/120.0")
	presented := NewBinding(policy, "sess1", "user1", "203.0.113.5", "Mozilla/5.0 Firefox/121.0")

	err := Verify(policy, recorded, presented)
	assert.ErrorIs(t, err, ErrBindingMismatch)
}

func TestVerify_ForgedFingerprintFails(t *testing.T) {
	policy := BindingPolicy{Secret: testSecret, IPTolerance: IPToleranceStrict}
	recorded := NewBinding(policy, "sess1", "user1", "203.0.113.5", "Mozilla/5.0 Chrome/120.0")

	presented := recorded
	presented.Fingerprint = Fingerprint([]byte("wrong-secret"), presented.SessionID, presented.IPAddress, presented.UserAgent)

	err := Verify(policy, recorded, presented)
	assert.ErrorIs(t, err, ErrBindingMismatch)
}

func TestBrowserFamily_DetectsMobile(t *testing.T) {
	family, mobile := browserFamily("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Mobile Safari/604.1")
	assert.Equal(t, "safari", family)
	assert.True(t, mobile)
}
