package redissub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

const addrEnv = "MATCHMAKING_TEST_REDIS_ADDR"

func testRecord(id string) *online.SessionRecord {
	settings := &online.SessionSettings{
		NumPublicConnections: 2,
		ShouldAdvertise:      true,
		UsesPresence:         true,
		BuildUniqueID:        online.DefaultBuildUniqueID,
	}
	settings.Set(online.SettingMatchType, "FreeForAll")
	return online.NewSessionRecord(id, online.GameSessionName, "host-"+online.UniqueNetID(id), "host", "10.0.0.2:7777", settings)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	assert.Equal(t, defaultKeyPrefix, cfg.KeyPrefix)
	assert.Equal(t, defaultTTL, cfg.TTL)
	assert.EqualValues(t, defaultRetryAttempts, cfg.RetryAttempts)

	s := &Store{prefix: "mm:"}
	assert.Equal(t, "mm:session:abc", s.key("abc"))
	assert.Equal(t, "mm:session:*", s.pattern())
}

func TestRecordCodec(t *testing.T) {
	record := testRecord("s1")
	data, err := encodeRecord(record)
	require.NoError(t, err)

	decoded, err := decodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, record, decoded)

	_, err = decodeRecord([]byte("not json"))
	assert.Error(t, err)
}

// StoreSuite 需要一个可用的 Redis，通过环境变量指定地址。
type StoreSuite struct {
	suite.Suite

	client *redis.Client
	store  *Store
}

func (s *StoreSuite) SetupSuite() {
	addr := os.Getenv(addrEnv)
	if addr == "" {
		s.T().Skipf("%s not set, skip redis tests", addrEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := NewClient(ctx, Config{Addr: addr})
	if err != nil {
		s.T().Skipf("redis not available: %v", err)
	}
	s.client = client
}

func (s *StoreSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *StoreSuite) SetupTest() {
	prefix := "matchmaking-test-" + online.NewUniqueNetID().String() + ":"
	s.store = NewStore(s.client, Config{KeyPrefix: prefix, TTL: 3 * time.Second, RetryAttempts: 10})
}

func (s *StoreSuite) TearDownTest() {
	ctx := context.Background()
	s.NoError(s.store.Close())
	keys, err := s.client.Keys(ctx, s.store.pattern()).Result()
	s.NoError(err)
	if len(keys) > 0 {
		s.NoError(s.client.Del(ctx, keys...).Err())
	}
}

func (s *StoreSuite) TestPutGetDelete() {
	ctx := context.Background()
	record := testRecord("s1")

	s.Require().NoError(s.store.Put(ctx, record))
	s.ErrorIs(s.store.Put(ctx, record), merr.ErrSessionExists)

	got, err := s.store.Get(ctx, "s1")
	s.Require().NoError(err)
	s.Equal(record.HostAddress, got.HostAddress)

	ttl, err := s.client.TTL(ctx, s.store.key("s1")).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))

	records, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Len(records, 1)

	s.Require().NoError(s.store.Delete(ctx, "s1"))
	_, err = s.store.Get(ctx, "s1")
	s.ErrorIs(err, merr.ErrSessionNotFound)
	s.ErrorIs(s.store.Delete(ctx, "s1"), merr.ErrSessionNotFound)
}

func (s *StoreSuite) TestUpdateKeepsTTL() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, testRecord("s1")))

	updated, err := s.store.Update(ctx, "s1", func(r *online.SessionRecord) error {
		return r.Reserve("p1")
	})
	s.Require().NoError(err)
	s.EqualValues(1, updated.OpenPublicConnections)

	ttl, err := s.client.TTL(ctx, s.store.key("s1")).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))

	_, err = s.store.Update(ctx, "s1", func(r *online.SessionRecord) error {
		return r.Reserve("p1")
	})
	s.ErrorIs(err, merr.ErrAlreadyInSession)

	_, err = s.store.Update(ctx, "missing", func(*online.SessionRecord) error { return nil })
	s.ErrorIs(err, merr.ErrSessionNotFound)
}

func (s *StoreSuite) TestRefreshOutlivesTTL() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, testRecord("s1")))

	time.Sleep(4 * time.Second)
	_, err := s.store.Get(ctx, "s1")
	s.NoError(err)
}

func TestStore(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}
