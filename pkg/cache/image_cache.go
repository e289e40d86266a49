package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ImageCache is a bounded cache of decoded PNG blobs keyed by library image
// id. Both the save path and the read-through path write to it; last writer
// wins, stale entries are acceptable.
type ImageCache struct {
	lru *lru.Cache[string, []byte]
}

func NewImageCache(size int) (*ImageCache, error) {
	if size <= 0 {
		size = 100
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &ImageCache{lru: c}, nil
}

func (c *ImageCache) Get(id string) ([]byte, bool) {
	return c.lru.Get(id)
}

func (c *ImageCache) Set(id string, data []byte) {
	c.lru.Add(id, data)
}

func (c *ImageCache) Remove(id string) {
	c.lru.Remove(id)
}
