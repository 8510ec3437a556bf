package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pdv-haver/internal/clients"
	"pdv-haver/internal/domain"
)

type ExportStatus struct {
	Key      string         `json:"key"`
	Type     string         `json:"type"`
	Filters  map[string]any `json:"filters"`
	Progress float64        `json:"progress"`
	FileURL  *string        `json:"file_url"`
	Error    *string        `json:"error,omitempty"`
	Created  time.Time      `json:"created_at"`
}

const (
	exportSetKey = "export_ids"
	exportTTL    = 20 * time.Minute
)

// ExportStatusStore is the key/value + set surface export bookkeeping needs;
// *clients.RedisClient satisfies it.
type ExportStatusStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SAdd(ctx context.Context, key string, members ...any) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...any) error
}

func saveExportStatus(ctx context.Context, store ExportStatusStore, st *ExportStatus) error {
	if store == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, st.Key, string(data), exportTTL); err != nil {
		return err
	}
	return store.SAdd(ctx, exportSetKey, st.Key)
}

type ExportView struct {
	Key       string         `json:"key"`
	Type      string         `json:"type"`
	Progress  float64        `json:"progress"`
	FileURL   *string        `json:"file_url"`
	Error     *string        `json:"error,omitempty"`
	Filters   map[string]any `json:"filters"`
	CreatedAt string         `json:"created_at"`
	Created   time.Time      `json:"created"`
}

type ExportService struct {
	store ExportStatusStore
	now   func() time.Time
}

func NewExportService(store ExportStatusStore) *ExportService {
	return &ExportService{store: store, now: time.Now}
}

func (s *ExportService) view(st ExportStatus) ExportView {
	return ExportView{
		Key:       st.Key,
		Type:      st.Type,
		Progress:  st.Progress,
		FileURL:   st.FileURL,
		Error:     st.Error,
		Filters:   st.Filters,
		CreatedAt: humanizePtAgo(st.Created, s.now()),
		Created:   st.Created,
	}
}

// GetExports lists known exports, newest first. Expired statuses are pruned
// from the index set.
func (s *ExportService) GetExports(ctx context.Context) ([]ExportView, error) {
	if s.store == nil {
		return nil, errors.New("export status store not configured")
	}

	keys, err := s.store.SMembers(ctx, exportSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get export keys: %w", err)
	}

	var statuses []ExportStatus
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if errors.Is(err, clients.ErrCacheMiss) {
			_ = s.store.SRem(ctx, exportSetKey, key)
			continue
		}
		if err != nil {
			continue
		}

		var status ExportStatus
		if err := json.Unmarshal([]byte(data), &status); err != nil {
			continue
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Created.After(statuses[j].Created)
	})

	out := make([]ExportView, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, s.view(st))
	}
	return out, nil
}

func (s *ExportService) GetExport(ctx context.Context, exportID string) (*ExportView, error) {
	if s.store == nil {
		return nil, errors.New("export status store not configured")
	}

	data, err := s.store.Get(ctx, exportID)
	if errors.Is(err, clients.ErrCacheMiss) {
		return nil, domain.NotFound("export %s not found", exportID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read export status: %w", err)
	}

	var status ExportStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to parse export status: %w", err)
	}

	v := s.view(status)
	return &v, nil
}

func humanizePtAgo(t, now time.Time) string {
	if t.After(now) {
		return "agora mesmo"
	}

	minutes := int(now.Sub(t).Minutes())
	if minutes < 1 {
		return "agora mesmo"
	}
	if minutes < 60 {
		return fmt.Sprintf("há %d %s", minutes, ptPlural(minutes, "minuto", "minutos"))
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("há %d %s", hours, ptPlural(hours, "hora", "horas"))
	}
	days := hours / 24
	if days < 30 {
		return fmt.Sprintf("há %d %s", days, ptPlural(days, "dia", "dias"))
	}
	return t.Format("02/01/2006 15:04")
}

func ptPlural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStatusStore keeps export statuses in process when Redis is off.
type MemoryStatusStore struct {
	mu     sync.Mutex
	values map[string]memoryEntry
	sets   map[string]map[string]struct{}
	now    func() time.Time
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{
		values: make(map[string]memoryEntry),
		sets:   make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

func (m *MemoryStatusStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.values[key] = memoryEntry{value: fmt.Sprint(value), expiresAt: exp}
	return nil
}

func (m *MemoryStatusStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.values[key]
	if !ok || (!e.expiresAt.IsZero() && m.now().After(e.expiresAt)) {
		delete(m.values, key)
		return "", clients.ErrCacheMiss
	}
	return e.value, nil
}

func (m *MemoryStatusStore) SAdd(_ context.Context, key string, members ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[fmt.Sprint(member)] = struct{}{}
	}
	return nil
}

func (m *MemoryStatusStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryStatusStore) SRem(_ context.Context, key string, members ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		delete(m.sets[key], fmt.Sprint(member))
	}
	return nil
}
