package skill

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Snapshot is an immutable view of the loaded skills. A request holds one
// snapshot for its whole lifetime.
type Snapshot struct {
	records  []*Record
	index    map[string]int
	loadedAt time.Time
	report   LoadReport
}

type builder struct {
	records []*Record
	index   map[string]int
}

func newBuilder() *builder {
	return &builder{index: make(map[string]int)}
}

// add registers rec. When the name is taken the new record replaces the old
// one in its original slot and the old record is returned.
func (b *builder) add(rec *Record) (*Record, bool) {
	if i, ok := b.index[rec.Descriptor.Name]; ok {
		prev := b.records[i]
		b.records[i] = rec
		return prev, true
	}
	b.index[rec.Descriptor.Name] = len(b.records)
	b.records = append(b.records, rec)
	return nil, false
}

func (b *builder) snapshot(report *LoadReport) *Snapshot {
	s := &Snapshot{records: b.records, index: b.index, loadedAt: time.Now()}
	if report != nil {
		s.report = *report
	}
	return s
}

// NewSnapshot builds a snapshot directly from records, in order. Later
// records with a duplicate name replace earlier ones.
func NewSnapshot(records ...*Record) *Snapshot {
	b := newBuilder()
	for _, r := range records {
		b.add(r)
	}
	return b.snapshot(nil)
}

// List returns descriptors in registration order.
func (s *Snapshot) List() []Descriptor {
	out := make([]Descriptor, len(s.records))
	for i, r := range s.records {
		out[i] = r.Descriptor.clone()
	}
	return out
}

// Get returns a copy of the named descriptor.
func (s *Snapshot) Get(name string) (Descriptor, bool) {
	i, ok := s.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return s.records[i].Descriptor.clone(), true
}

// Record returns the bound record for name.
func (s *Snapshot) Record(name string) (*Record, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.records[i], true
}

// Names returns skill names in registration order.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Descriptor.Name
	}
	return out
}

func (s *Snapshot) Len() int { return len(s.records) }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

func (s *Snapshot) Report() LoadReport { return s.report }

// Registry owns the live snapshot. Reload is the only mutator.
type Registry struct {
	dir      string
	bindings *Bindings
	current  atomic.Pointer[Snapshot]
	group    singleflight.Group
	logger   *zap.Logger
}

// NewRegistry creates a registry over dir with an empty snapshot. Call
// Reload to populate it.
func NewRegistry(dir string, bindings *Bindings, logger *zap.Logger) *Registry {
	r := &Registry{dir: dir, bindings: bindings, logger: logger}
	r.current.Store(NewSnapshot())
	return r
}

// Dir returns the directory the registry loads from.
func (r *Registry) Dir() string { return r.dir }

// Snapshot returns the snapshot currently in use.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Reload builds a fresh snapshot and swaps it in only once it is complete.
// Concurrent callers share a single load. On error the previous snapshot
// stays live.
func (r *Registry) Reload(ctx context.Context) (*LoadReport, error) {
	ch := r.group.DoChan("reload", func() (any, error) {
		snap, report, err := Load(r.dir, r.bindings, r.logger)
		if err != nil {
			r.logger.Error("skill reload failed, keeping previous snapshot", zap.Error(err))
			return nil, err
		}
		r.current.Store(snap)
		return report, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LoadReport), nil
	}
}
