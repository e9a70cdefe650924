/*
Copyright 2025 WattVault Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattvault/wattvault/config"
)

func newTestCache(t *testing.T) Cache {
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}})
	c, err := NewCache()
	require.NoError(t, err)
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	setValue := map[string]string{"balance_id": "bln_1"}
	assert.NoError(t, c.Set(ctx, "testKey", setValue, 10*time.Minute))

	var getValue map[string]string
	assert.NoError(t, c.Get(ctx, "testKey", &getValue))
	assert.Equal(t, setValue, getValue)
}

func TestGetMissIsNotAnError(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var out string
	assert.NoError(t, c.Get(ctx, "absent", &out))
	assert.Empty(t, out)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	assert.NoError(t, c.Set(ctx, "testKey", "v", 10*time.Minute))
	assert.NoError(t, c.Delete(ctx, "testKey"))

	var out string
	assert.NoError(t, c.Get(ctx, "testKey", &out))
	assert.Empty(t, out)
}
