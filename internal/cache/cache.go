package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ResultCache stores finished fingering results on disk. Entries are only
// served back to the engine version that wrote them.
type ResultCache struct {
	dir     string
	version string
}

// CachedOutput is one cached response payload
type CachedOutput struct {
	Payload   string    `json:"payload"`
	Mode      string    `json:"mode"`
	HandSize  string    `json:"hand_size"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates a cache under dir. An empty dir selects .cache/fingerings
// in the repository root, falling back to the user cache directory.
func New(dir, version string) (*ResultCache, error) {
	if dir == "" {
		var err error
		dir, err = defaultDir()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &ResultCache{dir: dir, version: version}, nil
}

// Version computes an engine version string from the helper version and the
// library sources. Changing any of them invalidates every entry.
func Version(helper string, sources ...string) string {
	hasher := sha256.New()
	hasher.Write([]byte(helper))
	for _, s := range sources {
		hasher.Write([]byte{0})
		hasher.Write([]byte(s))
	}
	hash := hex.EncodeToString(hasher.Sum(nil))
	return hash[:12]
}

// Key derives a cache key from the input content and request parameters
func Key(data []byte, handSize, mode string) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s_%s_%s", hex.EncodeToString(hash[:])[:24], strings.ToLower(handSize), mode)
}

// Dir returns the cache directory
func (c *ResultCache) Dir() string {
	return c.dir
}

// Get retrieves a cached output for the given key
func (c *ResultCache) Get(key string) (*CachedOutput, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}

	var out CachedOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	if out.Version != c.version {
		// written by another engine version
		return nil, false
	}
	return &out, true
}

// Put stores an output in the cache
func (c *ResultCache) Put(key string, output *CachedOutput) error {
	output.Version = c.version
	output.CreatedAt = time.Now()

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	// write then rename so readers never see a partial entry
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit entry: %w", err)
	}
	return nil
}

// Clear removes all cached results
func (c *ResultCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Size returns the total size of cached results in bytes and the entry count
func (c *ResultCache) Size() (int64, int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read cache dir: %w", err)
	}

	var total int64
	var count int
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
		count++
	}
	return total, count, nil
}

func (c *ResultCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// defaultDir finds .cache/fingerings in the repository root
func defaultDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}

	// Walk up looking for go.mod (repo root marker)
	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return filepath.Join(dir, ".cache", "fingerings"), nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			userCache, err := os.UserCacheDir()
			if err != nil {
				return "", fmt.Errorf("locate cache dir: %w", err)
			}
			return filepath.Join(userCache, "pianofinger"), nil
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
