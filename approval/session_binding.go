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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// IPTolerance controls how strictly the recorded and presented client IP
// must match at approval time.
type IPTolerance string

const (
	IPToleranceStrict IPTolerance = "strict" // exact match
	IPToleranceSubnet IPTolerance = "subnet" // same /24 (v4) or /64 (v6)
	IPToleranceNone   IPTolerance = "none"   // not checked
)

// BindingPolicy configures session-binding verification.
type BindingPolicy struct {
	Secret      []byte
	IPTolerance IPTolerance
}

// Fingerprint computes HMAC-SHA256(secret, session_id || ip || user_agent),
// the same construction the platform's request-signing code
// (connectors/sdk's IAM signer) uses for canonical-string HMACs, applied
// here to a binding tuple instead of a request.
func Fingerprint(secret []byte, sessionID, ip, userAgent string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(sessionID))
	h.Write([]byte("|"))
	h.Write([]byte(ip))
	h.Write([]byte("|"))
	h.Write([]byte(userAgent))
	return hex.EncodeToString(h.Sum(nil))
}

// NewBinding records the session context at query initiation.
func NewBinding(policy BindingPolicy, sessionID, userID, ip, userAgent string) Binding {
	return Binding{
		SessionID:   sessionID,
		UserID:      userID,
		IPAddress:   ip,
		UserAgent:   userAgent,
		Fingerprint: Fingerprint(policy.Secret, sessionID, ip, userAgent),
	}
}

// Verify checks a presented binding against the recorded one. All four
// fields must match under the configured policy; the fingerprint
// comparison is constant-time so timing cannot leak how many bytes
// matched. Returns ErrBindingMismatch (a security event, per §4.8) on any
// mismatch.
func Verify(policy BindingPolicy, recorded, presented Binding) error {
	if recorded.SessionID != presented.SessionID {
		return ErrBindingMismatch
	}
	if recorded.UserID != presented.UserID {
		return ErrBindingMismatch
	}
	if !ipMatches(policy.IPTolerance, recorded.IPAddress, presented.IPAddress) {
		return ErrBindingMismatch
	}
	if !userAgentMatches(recorded.UserAgent, presented.UserAgent) {
		return ErrBindingMismatch
	}

	expected := Fingerprint(policy.Secret, presented.SessionID, presented.IPAddress, presented.UserAgent)
	if !hmac.Equal([]byte(expected), []byte(presented.Fingerprint)) {
		return ErrBindingMismatch
	}
	return nil
}

func ipMatches(tolerance IPTolerance, recorded, presented string) bool {
	switch tolerance {
	case IPToleranceNone:
		return true
	case IPToleranceSubnet:
		return subnetEqual(recorded, presented)
	default: // strict
		return recorded == presented
	}
}

// subnetEqual compares the /24 prefix for IPv4 and /64 for IPv6, tolerant
// of the client's IP shifting within a NAT pool or provider edge network.
func subnetEqual(a, b string) bool {
	ipA := net.ParseIP(a)
	ipB := net.ParseIP(b)
	if ipA == nil || ipB == nil {
		return a == b
	}
	if v4A, v4B := ipA.To4(), ipB.To4(); v4A != nil && v4B != nil {
		return v4A[0] == v4B[0] && v4A[1] == v4B[1] && v4A[2] == v4B[2]
	}
	maskedA := ipA.Mask(net.CIDRMask(64, 128))
	maskedB := ipB.Mask(net.CIDRMask(64, 128))
	return maskedA.Equal(maskedB)
}

// browserFamily is a coarse heuristic extraction of browser family and
// form factor from a User-Agent string, avoiding a full UA-parsing
// dependency (none appears in the retrieval pack) for what the spec calls
// a "heuristic" comparison, not exact matching.
func browserFamily(ua string) (family string, mobile bool) {
	lower := strings.ToLower(ua)
	mobile = strings.Contains(lower, "mobile") || strings.Contains(lower, "android") || strings.Contains(lower, "iphone")

	switch {
	case strings.Contains(lower, "edg/"):
		family = "edge"
	case strings.Contains(lower, "chrome/"):
		family = "chrome"
	case strings.Contains(lower, "firefox/"):
		family = "firefox"
	case strings.Contains(lower, "safari/") && !strings.Contains(lower, "chrome/"):
		family = "safari"
	default:
		family = "unknown"
	}
	return family, mobile
}

func userAgentMatches(recorded, presented string) bool {
	rFamily, rMobile := browserFamily(recorded)
	pFamily, pMobile := browserFamily(presented)
	return rFamily == pFamily && rMobile == pMobile
}
