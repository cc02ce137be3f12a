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

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlsql-oss/queryorch/state"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLimiter_AllowsWithinBudgetThenRejects(t *testing.T) {
	client := testClient(t)
	l := NewLimiter(client, map[state.Role]Limit{
		state.RoleViewer: {MaxRequests: 2, Window: time.Minute},
	}, nil, nil, nil)

	r1, err := l.Check(context.Background(), "u1", "/query", state.RoleViewer)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)
	assert.Equal(t, 1, r1.Remaining)

	r2, err := l.Check(context.Background(), "u1", "/query", state.RoleViewer)
	require.NoError(t, err)
	assert.True(t, r2.Allowed)
	assert.Equal(t, 0, r2.Remaining)

	r3, err := l.Check(context.Background(), "u1", "/query", state.RoleViewer)
	require.NoError(t, err)
	assert.False(t, r3.Allowed)
	assert.Greater(t, r3.RetryAfter, time.Duration(0))
}

func TestLimiter_EndpointOverrideTakesPrecedence(t *testing.T) {
	client := testClient(t)
	l := NewLimiter(client,
		map[state.Role]Limit{state.RoleViewer: {MaxRequests: 100, Window: time.Minute}},
		map[string]Limit{"/export": {MaxRequests: 1, Window: time.Minute}},
		nil, nil,
	)

	r1, err := l.Check(context.Background(), "u1", "/export", state.RoleViewer)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	r2, err := l.Check(context.Background(), "u1", "/export", state.RoleViewer)
	require.NoError(t, err)
	assert.False(t, r2.Allowed)
}

func TestLimiter_DifferentUsersHaveIndependentWindows(t *testing.T) {
	client := testClient(t)
	l := NewLimiter(client, map[state.Role]Limit{
		state.RoleViewer: {MaxRequests: 1, Window: time.Minute},
	}, nil, nil, nil)

	r1, err := l.Check(context.Background(), "u1", "/query", state.RoleViewer)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	r2, err := l.Check(context.Background(), "u2", "/query", state.RoleViewer)
	require.NoError(t, err)
	assert.True(t, r2.Allowed)
}

func TestLimiter_FailsOpenWhenStoreUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	l := NewLimiter(client, map[state.Role]Limit{
		state.RoleViewer: {MaxRequests: 1, Window: time.Minute},
	}, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	r, err := l.Check(ctx, "u1", "/query", state.RoleViewer)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
}

func TestLimiter_ZeroMaxRequestsIsUnlimited(t *testing.T) {
	client := testClient(t)
	l := NewLimiter(client, map[state.Role]Limit{state.RoleAdmin: {MaxRequests: 0}}, nil, nil, nil)

	for i := 0; i < 5; i++ {
		r, err := l.Check(context.Background(), "admin1", "/query", state.RoleAdmin)
		require.NoError(t, err)
		assert.True(t, r.Allowed)
	}
}
