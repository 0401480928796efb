package persist

import (
	"context"
	"fmt"
)

// Collection names one keyspace in the entity store
type Collection string

const (
	CollectionCards      Collection = "cards"
	CollectionTags       Collection = "tags"
	CollectionActiveTags Collection = "activeTags"
	CollectionDomains    Collection = "domains"
	CollectionSettings   Collection = "globalSettings"

	CollectionStatsDaily     Collection = "statsDaily"
	CollectionStatsStreak    Collection = "statsStreak"
	CollectionStatsDomains   Collection = "statsDomains"
	CollectionStatsTags      Collection = "statsTags"
	CollectionStatsResponses Collection = "statsResponses"
)

// StatisticsCollections lists the statistics sub-collections read with a
// parallel fan-out on full-scope export
var StatisticsCollections = []Collection{
	CollectionStatsDaily,
	CollectionStatsStreak,
	CollectionStatsDomains,
	CollectionStatsTags,
	CollectionStatsResponses,
}

// AllCollections lists every keyspace captured by a snapshot, in a stable
// order
var AllCollections = []Collection{
	CollectionCards,
	CollectionTags,
	CollectionActiveTags,
	CollectionDomains,
	CollectionSettings,
	CollectionStatsDaily,
	CollectionStatsStreak,
	CollectionStatsDomains,
	CollectionStatsTags,
	CollectionStatsResponses,
}

// Store is the entity storage engine consumed by the backup core. Entities
// are stored as their JSON encoding; each operation is independently
// failable and any failure during an import is treated as a write failure
// by the transaction.
type Store interface {
	Get(ctx context.Context, coll Collection, key string) ([]byte, error)
	Set(ctx context.Context, coll Collection, key string, value []byte) error
	Delete(ctx context.Context, coll Collection, key string) error
	GetAll(ctx context.Context, coll Collection) (map[string][]byte, error)
}

// ErrKeyNotFound is returned when a key is not present in a collection
type ErrKeyNotFound struct {
	Collection Collection
	Key        string
}

func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key not found: %s/%s", e.Collection, e.Key)
}
