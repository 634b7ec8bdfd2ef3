package redis

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/store/storetest"
)

var prefixSeq atomic.Int64

// VEXD_TEST_REDIS holds an address such as 127.0.0.1:6379. Every test uses its
// own key prefix and deletes its keys afterwards.
func TestConformance(t *testing.T) {
	addr := os.Getenv("VEXD_TEST_REDIS")
	if addr == "" {
		t.Skip("VEXD_TEST_REDIS not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		prefix := fmt.Sprintf("vexd-test:%d:%d:", time.Now().UnixNano(), prefixSeq.Add(1))
		s, err := Open(ctx, Options{Addr: addr, Prefix: prefix})
		require.NoError(t, err)
		t.Cleanup(func() {
			c := goredis.NewClient(&goredis.Options{Addr: addr})
			defer c.Close()
			iter := c.Scan(ctx, 0, prefix+"*", 500).Iterator()
			for iter.Next(ctx) {
				c.Del(ctx, iter.Val())
			}
		})
		return s
	})
}

func TestKeys(t *testing.T) {
	s := New(nil, "")
	assert.Equal(t, "vexd:meta", s.metaKey())
	assert.Equal(t, "vexd:nw:42", s.nodeWaysKey(42))
	assert.Equal(t, "vexd:rm:way:10", s.memberKey(entity.MemberWay, 10))
	assert.Equal(t, "vexd:tile:7", s.tileKey(7))

	s = New(nil, "eu:")
	assert.Equal(t, "eu:nodes", s.nodesKey())
}

func TestSortedUnion(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3, 5}, sortedUnion([]int64{5, 1, 3}, []int64{3, 2, 1}))
	assert.Empty(t, sortedUnion())
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", "-7", "12"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, -7, 12}, ids)

	_, err = parseIDs([]string{"x"})
	assert.Error(t, err)
}
