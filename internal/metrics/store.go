package metrics

import (
	"sync"
	"time"

	"crashguard/internal/model"
)

// DeviceStats is the latest per-device crash summary served by the API.
type DeviceStats struct {
	DeviceID      string              `json:"device_id"`
	LastCrashType string              `json:"last_crash_type,omitempty"`
	LastAppID     string              `json:"last_app_id,omitempty"`
	Crashes       model.RollingCounts `json:"crashes"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Store keeps the latest summary per device, evicting the stalest device
// once the limit is exceeded.
type Store struct {
	mu       sync.RWMutex
	byDevice map[string]DeviceStats
	limit    int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byDevice: make(map[string]DeviceStats),
		limit:    limit,
	}
}

func (s *Store) Update(deviceID string, ev model.CrashEvent, counts model.RollingCounts) {
	if deviceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice[deviceID] = DeviceStats{
		DeviceID:      deviceID,
		LastCrashType: ev.CrashType,
		LastAppID:     ev.AppID,
		Crashes:       counts,
		UpdatedAt:     time.Now().UTC(),
	}
	if len(s.byDevice) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(deviceID string) (DeviceStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.byDevice[deviceID]
	return stats, ok
}

func (s *Store) GetAll() map[string]DeviceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]DeviceStats, len(s.byDevice))
	for deviceID, stats := range s.byDevice {
		out[deviceID] = stats
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestDevice string
	var oldest time.Time
	for device, stats := range s.byDevice {
		if oldestDevice == "" || stats.UpdatedAt.Before(oldest) {
			oldestDevice = device
			oldest = stats.UpdatedAt
		}
	}
	if oldestDevice != "" {
		delete(s.byDevice, oldestDevice)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice = make(map[string]DeviceStats)
}
