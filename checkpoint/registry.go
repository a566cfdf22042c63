package checkpoint

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/rushteam/mmrec/core"
)

const registryPrefix = "ckpt/"

// Entry 是一条制品索引记录。
type Entry struct {
	Key       string    `json:"key"`
	RunID     string    `json:"run_id"`
	Alias     string    `json:"alias"`
	Epoch     int       `json:"epoch"`
	Metrics   Metrics   `json:"metrics"`
	CreatedAt time.Time `json:"created_at"`
}

// EntryOf 从制品生成索引记录。
func EntryOf(c *Checkpoint, key string) Entry {
	return Entry{
		Key:       key,
		RunID:     c.RunID,
		Alias:     c.Alias,
		Epoch:     c.Epoch,
		Metrics:   c.Metrics,
		CreatedAt: c.CreatedAt,
	}
}

// Registry 用 badger 记录每轮制品的指标，便于训练后挑选最佳轮次。
type Registry struct {
	db *badger.DB
}

// OpenRegistry 打开索引；dir 为空时使用内存模式。
func OpenRegistry(dir string) (*Registry, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger registry: %w", err)
	}
	return &Registry{db: db}, nil
}

func entryKey(alias string, epoch int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", registryPrefix, alias, epoch))
}

// Record 写入或覆盖一条记录。
func (r *Registry) Record(e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.Alias, e.Epoch), val)
	})
}

// List 按轮次升序返回某个 alias 的全部记录。
func (r *Registry) List(alias string) ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(registryPrefix + alias + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list registry %s: %w", alias, err)
	}
	return entries, nil
}

// Best 返回 HR 最高的记录，HR 相同比较 NDCG，再相同取较早的轮次。
func (r *Registry) Best(alias string) (Entry, error) {
	entries, err := r.List(alias)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, core.NewDomainError(core.ModuleCheckpoint, core.ErrorCodeNotFound, "checkpoint: no entries for "+alias)
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if better(e.Metrics, best.Metrics) {
			best = e
		}
	}
	return best, nil
}

func better(a, b Metrics) bool {
	if a.HitRatio != b.HitRatio {
		return a.HitRatio > b.HitRatio
	}
	return a.NDCG > b.NDCG
}

// Close 关闭索引。
func (r *Registry) Close() error {
	return r.db.Close()
}
