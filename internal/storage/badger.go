package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"markovbrains/internal/model"
)

const (
	badgerGenomePrefix     = "genome/"
	badgerPopulationPrefix = "population/"
	badgerStatsPrefix      = "stats/"
	badgerLineagePrefix    = "lineage/"
)

// BadgerStore keeps run artifacts in an embedded badger key-value store.
// An empty path opens an in-memory instance.
type BadgerStore struct {
	path string

	mu sync.RWMutex
	db *badger.DB
}

func NewBadgerStore(path string) *BadgerStore {
	return &BadgerStore{path: path}
}

func (s *BadgerStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(s.path).WithLogger(nil)
	if s.path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger store: %w", err)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) SaveGenome(_ context.Context, genome model.GenomeRecord) error {
	payload, err := EncodeGenome(genome)
	if err != nil {
		return err
	}
	return s.put(badgerGenomePrefix+genome.ID, payload)
}

func (s *BadgerStore) GetGenome(_ context.Context, id string) (model.GenomeRecord, bool, error) {
	payload, ok, err := s.get(badgerGenomePrefix + id)
	if err != nil || !ok {
		return model.GenomeRecord{}, false, err
	}
	genome, err := DecodeGenome(payload)
	if err != nil {
		return model.GenomeRecord{}, false, fmt.Errorf("decode genome %s: %w", id, err)
	}
	return genome, true, nil
}

func (s *BadgerStore) SavePopulation(_ context.Context, population model.PopulationSnapshot) error {
	payload, err := EncodePopulation(population)
	if err != nil {
		return err
	}
	return s.put(badgerPopulationPrefix+population.ID, payload)
}

func (s *BadgerStore) GetPopulation(_ context.Context, id string) (model.PopulationSnapshot, bool, error) {
	payload, ok, err := s.get(badgerPopulationPrefix + id)
	if err != nil || !ok {
		return model.PopulationSnapshot{}, false, err
	}
	population, err := DecodePopulation(payload)
	if err != nil {
		return model.PopulationSnapshot{}, false, fmt.Errorf("decode population %s: %w", id, err)
	}
	return population, true, nil
}

func (s *BadgerStore) SaveGenerationStats(_ context.Context, runID string, stats []model.GenerationStats) error {
	payload, err := EncodeGenerationStats(stats)
	if err != nil {
		return err
	}
	return s.put(badgerStatsPrefix+runID, payload)
}

func (s *BadgerStore) GetGenerationStats(_ context.Context, runID string) ([]model.GenerationStats, bool, error) {
	payload, ok, err := s.get(badgerStatsPrefix + runID)
	if err != nil || !ok {
		return nil, false, err
	}
	stats, err := DecodeGenerationStats(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode generation stats %s: %w", runID, err)
	}
	return stats, true, nil
}

func (s *BadgerStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	payload, err := EncodeLineage(lineage)
	if err != nil {
		return err
	}
	return s.put(badgerLineagePrefix+runID, payload)
}

func (s *BadgerStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	payload, ok, err := s.get(badgerLineagePrefix + runID)
	if err != nil || !ok {
		return nil, false, err
	}
	lineage, err := DecodeLineage(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode lineage %s: %w", runID, err)
	}
	return lineage, true, nil
}

func (s *BadgerStore) ListRuns(_ context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var runs []string
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerStatsPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			runs = append(runs, strings.TrimPrefix(key, badgerStatsPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(runs)
	return runs, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) getDB() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func (s *BadgerStore) put(key string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
}

func (s *BadgerStore) get(key string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}
