package library

import (
	"fmt"
	"sync"

	"github.com/narahir/RetroDiffusionApp/pkg/cache"
	"github.com/narahir/RetroDiffusionApp/pkg/db"
	"github.com/narahir/RetroDiffusionApp/pkg/models"
)

// Client presents the library database as an incrementally loadable, cached
// list. It keeps an ordered newest-first projection of the loaded entries and
// a hasMore flag driven by the "full page implies more" heuristic.
type Client struct {
	mu        sync.Mutex
	store     db.LibraryDatabase
	cache     *cache.ImageCache
	pageSize  int
	hasMore   bool
	isLoading bool
	images    []models.LibraryImage
}

func NewClient(store db.LibraryDatabase, imageCache *cache.ImageCache, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{
		store:    store,
		cache:    imageCache,
		pageSize: pageSize,
		hasMore:  true,
	}
}

// LoadInitial clears the projection and loads the first page.
func (c *Client) LoadInitial() error {
	c.mu.Lock()
	c.images = nil
	c.hasMore = true
	c.mu.Unlock()
	return c.LoadNextPage()
}

// LoadNextPage fetches the next page and appends it. It is a no-op when a
// load is already in flight or the store is exhausted. A page exactly the
// size of the limit may cost one trailing empty fetch; that is accepted.
// A save landing between the offset read and the fetch shifts the page back
// over entries we already hold, so already-loaded ids are skipped.
func (c *Client) LoadNextPage() error {
	c.mu.Lock()
	if !c.hasMore || c.isLoading {
		c.mu.Unlock()
		return nil
	}
	c.isLoading = true
	offset := len(c.images)
	c.mu.Unlock()

	page, err := c.store.FetchPage(offset, c.pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.isLoading = false
	if err != nil {
		return fmt.Errorf("failed to load library page: %w", err)
	}
	loaded := make(map[string]bool, len(c.images))
	for _, img := range c.images {
		loaded[img.ID] = true
	}
	for _, img := range page {
		if !loaded[img.ID] {
			c.images = append(c.images, img)
		}
	}
	c.hasMore = len(page) == c.pageSize
	return nil
}

// Save persists the image and prepends the new entry, so the visible order
// stays newest-first without a reload. The cache is primed with the blob.
func (c *Client) Save(data []byte, meta models.ImageMetadata) (*models.LibraryImage, error) {
	saved, err := c.store.Save(data, meta)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.images = append([]models.LibraryImage{*saved}, c.images...)
	c.mu.Unlock()
	c.cache.Set(saved.ID, data)
	return saved, nil
}

func (c *Client) Delete(img models.LibraryImage) error {
	if err := c.store.Delete(img.ID); err != nil {
		return err
	}

	c.mu.Lock()
	kept := c.images[:0]
	for _, existing := range c.images {
		if existing.ID != img.ID {
			kept = append(kept, existing)
		}
	}
	c.images = kept
	c.mu.Unlock()
	c.cache.Remove(img.ID)
	return nil
}

// LoadImage returns the blob for an entry, reading through the store on a
// cache miss. Nil means the blob is gone.
func (c *Client) LoadImage(img models.LibraryImage) []byte {
	if data, ok := c.cache.Get(img.ID); ok {
		return data
	}

	data := c.store.ImageData(img.FileName)
	if data == nil {
		return nil
	}
	c.cache.Set(img.ID, data)
	return data
}

// Images returns a snapshot of the loaded projection.
func (c *Client) Images() []models.LibraryImage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.LibraryImage, len(c.images))
	copy(out, c.images)
	return out
}

// Find looks up a loaded entry by id.
func (c *Client) Find(id string) (models.LibraryImage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, img := range c.images {
		if img.ID == id {
			return img, true
		}
	}
	return models.LibraryImage{}, false
}

func (c *Client) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}
