package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/codragon2020/prompt-manager/core"
)

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("registry: conflict")

// ErrReadOnly is returned by writes attempted inside View.
var ErrReadOnly = errors.New("registry: read-only unit of work")

// lockWeight is the capacity of a prompt lock. Writers acquire all of it,
// readers acquire one unit.
const lockWeight = 1 << 20

// MemoryStore is an in-memory Store for tests and single-process use.
//
// Committed state is immutable: a unit of work stages its writes on a private
// copy and replays them onto the latest state at commit, so no reader ever
// observes uncommitted or rolled-back writes.
type MemoryStore struct {
	locksMu sync.Mutex
	locks   map[string]*semaphore.Weighted

	mu    sync.Mutex
	state *memState
}

// memState is one snapshot of the store. Values reachable from a committed
// snapshot are never mutated; writes replace them.
type memState struct {
	prompts    map[string]*core.Prompt
	tagIDs     map[string]string   // normalized name -> tag id
	promptTags map[string][]string // prompt id -> tag names
	versions   map[string][]*core.Version
	envs       map[string]*core.Environment // key -> environment
	pubs       []*core.Publication
	seq        int64
}

func (st *memState) clone() *memState {
	return &memState{
		prompts:    maps.Clone(st.prompts),
		tagIDs:     maps.Clone(st.tagIDs),
		promptTags: maps.Clone(st.promptTags),
		versions:   maps.Clone(st.versions),
		envs:       maps.Clone(st.envs),
		pubs:       slices.Clone(st.pubs),
		seq:        st.seq,
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]*semaphore.Weighted),
		state: &memState{
			prompts:    make(map[string]*core.Prompt),
			tagIDs:     make(map[string]string),
			promptTags: make(map[string][]string),
			versions:   make(map[string][]*core.Version),
			envs:       make(map[string]*core.Environment),
		},
	}
}

// Update runs fn and commits its writes only if it returns nil.
func (m *MemoryStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{s: m, held: make(map[string]int64)}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(tx.ops)
}

// View runs fn read-only. Prompt locks are taken shared.
func (m *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{s: m, readOnly: true, held: make(map[string]int64)}
	defer tx.release()
	return fn(ctx, tx)
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// commit replays ops onto a copy of the latest state and publishes it. A
// replay failure, such as a conflicting insert committed meanwhile, discards
// every op.
func (m *MemoryStore) commit(ops []memOp) error {
	if len(ops) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.clone()
	for _, op := range ops {
		if err := op(next); err != nil {
			return err
		}
	}
	m.state = next
	return nil
}

func (m *MemoryStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MemoryStore) lockFor(promptID string) *semaphore.Weighted {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[promptID]
	if !ok {
		l = semaphore.NewWeighted(lockWeight)
		m.locks[promptID] = l
	}
	return l
}

// memOp is one staged write. It runs against the private copy when issued and
// again against the latest state at commit.
type memOp func(st *memState) error

type memTx struct {
	s        *MemoryStore
	readOnly bool
	held     map[string]int64
	local    *memState
	ops      []memOp
}

// state returns what this unit of work reads: its private copy once it has
// written, the latest committed snapshot before that.
func (t *memTx) state() *memState {
	if t.local != nil {
		return t.local
	}
	return t.s.snapshot()
}

func (t *memTx) apply(op memOp) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if t.local == nil {
		t.local = t.s.snapshot().clone()
	}
	if err := op(t.local); err != nil {
		return err
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *memTx) release() {
	for id, w := range t.held {
		t.s.lockFor(id).Release(w)
	}
	t.held = nil
}

func (t *memTx) LockPrompt(ctx context.Context, promptID string) error {
	if _, ok := t.held[promptID]; ok {
		return nil
	}
	w := int64(lockWeight)
	if t.readOnly {
		w = 1
	}
	if err := t.s.lockFor(promptID).Acquire(ctx, w); err != nil {
		return fmt.Errorf("lock prompt %s: %w", promptID, err)
	}
	t.held[promptID] = w
	return nil
}

func (t *memTx) GetPrompt(ctx context.Context, id string, includeDeleted bool) (*core.Prompt, error) {
	st := t.state()
	p, ok := st.prompts[id]
	if !ok || (p.Deleted() && !includeDeleted) {
		return nil, ErrNoRows
	}
	return st.withTags(p), nil
}

func (t *memTx) ListPrompts(ctx context.Context, filter Filter) ([]*core.Prompt, int, error) {
	st := t.state()

	q := strings.ToLower(strings.TrimSpace(filter.Query))
	tag := core.NormalizeTag(filter.Tag)
	var envID string
	if filter.Env != "" {
		env, ok := st.envs[filter.Env]
		if !ok {
			return []*core.Prompt{}, 0, nil
		}
		envID = env.ID
	}

	var matched []*core.Prompt
	for id, p := range st.prompts {
		if p.Deleted() {
			continue
		}
		if q != "" && !st.matchesQuery(p, q) {
			continue
		}
		if tag != "" && !slices.Contains(st.promptTags[id], tag) {
			continue
		}
		if envID != "" && !st.publishedTo(id, envID) {
			continue
		}
		matched = append(matched, p)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		ta, tb := a.UpdatedAt, b.UpdatedAt
		if filter.Sort == SortCreatedAt {
			ta, tb = a.CreatedAt, b.CreatedAt
		}
		if !ta.Equal(tb) {
			if filter.Descending {
				return ta.After(tb)
			}
			return ta.Before(tb)
		}
		return a.ID < b.ID
	})

	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	out := make([]*core.Prompt, 0, end-start)
	for _, p := range matched[start:end] {
		out = append(out, st.withTags(p))
	}
	return out, total, nil
}

func (t *memTx) CreatePrompt(ctx context.Context, p *core.Prompt) error {
	stored := p.Copy()
	stored.Tags = nil
	return t.apply(func(st *memState) error {
		if _, ok := st.prompts[stored.ID]; ok {
			return fmt.Errorf("prompt %s: %w", stored.ID, ErrConflict)
		}
		st.prompts[stored.ID] = stored
		return nil
	})
}

func (t *memTx) UpdatePrompt(ctx context.Context, p *core.Prompt) error {
	next := p.Copy()
	next.Tags = nil
	return t.apply(func(st *memState) error {
		old, ok := st.prompts[next.ID]
		if !ok {
			return ErrNoRows
		}
		stored := next.Copy()
		stored.CreatedAt = old.CreatedAt
		st.prompts[next.ID] = stored
		return nil
	})
}

func (t *memTx) SetPromptTags(ctx context.Context, promptID string, names []string) error {
	norm := core.NormalizeTags(names)
	return t.apply(func(st *memState) error {
		if _, ok := st.prompts[promptID]; !ok {
			return ErrNoRows
		}
		for _, n := range norm {
			if _, ok := st.tagIDs[n]; !ok {
				st.tagIDs[n] = uuid.NewString()
			}
		}
		st.promptTags[promptID] = slices.Clone(norm)
		return nil
	})
}

func (t *memTx) MaxVersion(ctx context.Context, promptID string) (int, error) {
	st := t.state()
	vs := st.versions[promptID]
	if len(vs) == 0 {
		return 0, nil
	}
	return vs[len(vs)-1].Version, nil
}

func (t *memTx) VersionNumbers(ctx context.Context, promptID string) ([]int, error) {
	st := t.state()
	out := make([]int, 0, len(st.versions[promptID]))
	for _, v := range st.versions[promptID] {
		out = append(out, v.Version)
	}
	return out, nil
}

func (t *memTx) GetVersion(ctx context.Context, promptID, versionID string) (*core.Version, error) {
	st := t.state()
	for _, v := range st.versions[promptID] {
		if v.ID == versionID {
			return v.Copy(), nil
		}
	}
	return nil, ErrNoRows
}

func (t *memTx) GetVersionByNumber(ctx context.Context, promptID string, number int) (*core.Version, error) {
	st := t.state()
	for _, v := range st.versions[promptID] {
		if v.Version == number {
			return v.Copy(), nil
		}
	}
	return nil, ErrNoRows
}

func (t *memTx) ListVersions(ctx context.Context, promptID string) ([]*core.Version, error) {
	st := t.state()
	out := make([]*core.Version, 0, len(st.versions[promptID]))
	for _, v := range st.versions[promptID] {
		out = append(out, v.Copy())
	}
	return out, nil
}

func (t *memTx) CreateVersion(ctx context.Context, v *core.Version) error {
	if err := core.ValidateVariables(v.Variables); err != nil {
		return err
	}
	stored := v.Copy()
	return t.apply(func(st *memState) error {
		if _, ok := st.prompts[stored.PromptID]; !ok {
			return fmt.Errorf("version of prompt %s: %w", stored.PromptID, ErrNoRows)
		}
		vs := st.versions[stored.PromptID]
		for _, e := range vs {
			if e.Version == stored.Version || e.ID == stored.ID {
				return fmt.Errorf("version %d of prompt %s: %w", stored.Version, stored.PromptID, ErrConflict)
			}
		}
		i := sort.Search(len(vs), func(i int) bool { return vs[i].Version > stored.Version })
		next := make([]*core.Version, 0, len(vs)+1)
		next = append(next, vs[:i]...)
		next = append(next, stored)
		next = append(next, vs[i:]...)
		st.versions[stored.PromptID] = next
		return nil
	})
}

func (t *memTx) GetEnvironment(ctx context.Context, key string) (*core.Environment, error) {
	st := t.state()
	env, ok := st.envs[key]
	if !ok {
		return nil, ErrNoRows
	}
	e := *env
	return &e, nil
}

func (t *memTx) ListEnvironments(ctx context.Context) ([]*core.Environment, error) {
	st := t.state()
	out := make([]*core.Environment, 0, len(st.envs))
	for _, env := range st.envs {
		e := *env
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *memTx) UpsertEnvironment(ctx context.Context, env *core.Environment) error {
	return t.apply(func(st *memState) error {
		key := env.Key
		if old, ok := st.envs[key]; ok {
			e := *old
			e.Name = env.Name
			st.envs[key] = &e
			env.ID = old.ID
			return nil
		}
		if env.ID == "" {
			env.ID = uuid.NewString()
		}
		e := *env
		st.envs[key] = &e
		return nil
	})
}

// CreatePublication assigns p.Seq. The value is final once Update returns.
func (t *memTx) CreatePublication(ctx context.Context, p *core.Publication) error {
	return t.apply(func(st *memState) error {
		if _, ok := st.prompts[p.PromptID]; !ok {
			return fmt.Errorf("publication of prompt %s: %w", p.PromptID, ErrNoRows)
		}
		if st.envByID(p.EnvironmentID) == nil {
			return fmt.Errorf("publication to environment %s: %w", p.EnvironmentID, ErrNoRows)
		}
		st.seq++
		p.Seq = st.seq
		st.pubs = append(st.pubs, p.Copy())
		return nil
	})
}

func (t *memTx) LatestPublication(ctx context.Context, promptID, environmentID string) (*core.Publication, error) {
	st := t.state()
	var latest *core.Publication
	for _, p := range st.pubs {
		if p.PromptID == promptID && p.EnvironmentID == environmentID && p.Newer(latest) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrNoRows
	}
	return st.withEnvKey(latest), nil
}

func (t *memTx) ListPublications(ctx context.Context, promptID, environmentID string) ([]*core.Publication, error) {
	st := t.state()
	var out []*core.Publication
	for _, p := range st.pubs {
		if p.PromptID != promptID {
			continue
		}
		if environmentID != "" && p.EnvironmentID != environmentID {
			continue
		}
		out = append(out, st.withEnvKey(p))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[j].Newer(out[i]) })
	return out, nil
}

func (st *memState) withTags(p *core.Prompt) *core.Prompt {
	q := p.Copy()
	q.Tags = append([]string{}, st.promptTags[p.ID]...)
	return q
}

func (st *memState) withEnvKey(p *core.Publication) *core.Publication {
	q := p.Copy()
	if env := st.envByID(p.EnvironmentID); env != nil {
		q.EnvironmentKey = env.Key
	}
	return q
}

func (st *memState) envByID(id string) *core.Environment {
	for _, env := range st.envs {
		if env.ID == id {
			return env
		}
	}
	return nil
}

func (st *memState) matchesQuery(p *core.Prompt, q string) bool {
	if strings.Contains(strings.ToLower(p.Name), q) {
		return true
	}
	if p.Description != nil && strings.Contains(strings.ToLower(*p.Description), q) {
		return true
	}
	for _, v := range st.versions[p.ID] {
		if strings.Contains(strings.ToLower(v.Content), q) {
			return true
		}
	}
	return false
}

func (st *memState) publishedTo(promptID, envID string) bool {
	for _, p := range st.pubs {
		if p.PromptID == promptID && p.EnvironmentID == envID {
			return true
		}
	}
	return false
}
