package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/pkg/log"
)

var (
	Redis *redis.Client
)

func Init(cred *config.DBCredential) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	Redis = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%v:%v", cred.Address, cred.Port),
		DB:   int(db),
	})
	if _, err := Redis.Ping(context.TODO()).Result(); err != nil {
		log.Fatalf("ping to redis:%v", err)
	}
}

func Close() {
	if Redis != nil {
		if err := Redis.Close(); err != nil {
			log.Errorf("close redis:%v", err)
		}
	}
}

func abiKey(chainID int64, address string) string {
	return fmt.Sprintf("abi:%d:%s", chainID, strings.ToLower(address))
}

// GetContractABI returns a cached contract ABI JSON document. A cold cache or
// an unreachable redis is a miss, never an error.
func GetContractABI(ctx context.Context, chainID int64, address string) (string, bool) {
	if Redis == nil {
		return "", false
	}
	val, err := Redis.Get(ctx, abiKey(chainID, address)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debugf("abi cache read:%v", err)
		}
		return "", false
	}
	return val, true
}

// PutContractABI stores a contract ABI JSON document with a TTL.
func PutContractABI(ctx context.Context, chainID int64, address, abiJSON string, ttl time.Duration) {
	if Redis == nil {
		return
	}
	if err := Redis.Set(ctx, abiKey(chainID, address), abiJSON, ttl).Err(); err != nil {
		log.Debugf("abi cache write:%v", err)
	}
}
