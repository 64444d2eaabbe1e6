package memkv

import (
	"github.com/skipor/memkv/cache"
	"github.com/skipor/memkv/executor"
)

const DefaultAddr = ":11211"

type Config struct {
	// Addr is TCP address to listen on. DefaultAddr if empty.
	Addr        string
	Cache       cache.Config
	Executor    executor.Config
	MaxItemSize int
}
