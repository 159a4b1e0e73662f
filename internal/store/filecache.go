package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/errorutil"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/weather"
)

const fileCacheSchemaVersion = 1

// cacheFile is the on-disk TOML document.
type cacheFile struct {
	SchemaVersion int                   `toml:"schema_version"`
	UpdatedAt     time.Time             `toml:"updated_at"`
	Records       []weather.CacheRecord `toml:"records"`
}

// FileCache persists weather cache records to a single TOML file. Every
// write replaces the file atomically.
type FileCache struct {
	filePath string
	mu       sync.Mutex
}

// NewFileCache creates a cache backed by filePath. The file is created on
// first write.
func NewFileCache(filePath string) *FileCache {
	return &FileCache{filePath: filePath}
}

// Get returns the record for key unless it is missing or expired at now.
func (fc *FileCache) Get(ctx context.Context, key weather.CacheKey, now time.Time) (weather.CacheRecord, bool, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	doc, err := fc.read()
	if err != nil {
		return weather.CacheRecord{}, false, err
	}

	want := key.String()
	for _, rec := range doc.Records {
		if rec.Key.String() == want {
			if rec.Expired(now) {
				return weather.CacheRecord{}, false, nil
			}
			return rec, true, nil
		}
	}
	return weather.CacheRecord{}, false, nil
}

// Upsert inserts or replaces record and rewrites the file.
func (fc *FileCache) Upsert(ctx context.Context, record weather.CacheRecord) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	complete := logger.LogOperationStart("cache_write", map[string]any{
		"file_path": fc.filePath,
		"key":       record.Key.String(),
	})

	doc, err := fc.read()
	if err != nil {
		complete(err)
		return err
	}

	want := record.Key.String()
	replaced := false
	for i, rec := range doc.Records {
		if rec.Key.String() == want {
			doc.Records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Records = append(doc.Records, record)
	}

	err = fc.write(doc)
	complete(err)
	return err
}

// DeleteExpired drops records expired at now. The file is only rewritten
// when something was removed.
func (fc *FileCache) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	doc, err := fc.read()
	if err != nil {
		return 0, err
	}

	kept := doc.Records[:0]
	for _, rec := range doc.Records {
		if !rec.Expired(now) {
			kept = append(kept, rec)
		}
	}
	removed := len(doc.Records) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	doc.Records = kept
	if err := fc.write(doc); err != nil {
		return 0, err
	}
	logger.Debug("Removed %d expired weather cache records from %s", removed, fc.filePath)
	return removed, nil
}

// read loads the file; a missing file is an empty cache. Failures are
// logged with the file path before they reach the resolver.
func (fc *FileCache) read() (cacheFile, error) {
	data, err := os.ReadFile(fc.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return cacheFile{SchemaVersion: fileCacheSchemaVersion}, nil
	}
	if err != nil {
		return cacheFile{}, fc.readFailed(&errorutil.FileError{Operation: "read", Path: fc.filePath, Underlying: err})
	}

	var doc cacheFile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return cacheFile{}, fc.readFailed(fmt.Errorf("failed to parse cache TOML: %w", err))
	}
	if doc.SchemaVersion != fileCacheSchemaVersion {
		return cacheFile{}, fc.readFailed(fmt.Errorf("unsupported cache schema version: %d", doc.SchemaVersion))
	}
	return doc, nil
}

func (fc *FileCache) readFailed(err error) error {
	return errorutil.LogAndWrap(logger.Get().Logger, "cache read", err, errorutil.FileContext(fc.filePath)...)
}

func (fc *FileCache) write(doc cacheFile) error {
	doc.SchemaVersion = fileCacheSchemaVersion
	doc.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	sort.Slice(doc.Records, func(i, j int) bool {
		return doc.Records[i].Key.String() < doc.Records[j].Key.String()
	})

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	return errorutil.AtomicWriteFile(logger.Get().Logger, fc.filePath, data, 0644)
}
