package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/riskcore/internal/database"
)

// SystemHandlers serves process and database health.
type SystemHandlers struct {
	dataDir   string
	coreDB    *database.DB
	cacheDB   *database.DB
	startedAt time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers.
func NewSystemHandlers(dataDir string, coreDB, cacheDB *database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		dataDir:   dataDir,
		coreDB:    coreDB,
		cacheDB:   cacheDB,
		startedAt: time.Now(),
		log:       log.With().Str("component", "system").Logger(),
	}
}

// HealthSnapshot is the system health payload, also published periodically
// on the event stream by the status monitor.
type HealthSnapshot struct {
	Status        string            `json:"status"` // ok | degraded
	UptimeSeconds float64           `json:"uptime_seconds"`
	Goroutines    int               `json:"goroutines"`
	HeapAllocMB   float64           `json:"heap_alloc_mb"`
	MemoryUsedPct float64           `json:"memory_used_pct"`
	CPUPct        float64           `json:"cpu_pct"`
	DiskUsedPct   float64           `json:"disk_used_pct"`
	DiskFreeGB    float64           `json:"disk_free_gb"`
	Databases     map[string]string `json:"databases"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Snapshot gathers host and database health. Host metric failures degrade to
// zero values rather than failing the probe; database failures mark the
// snapshot degraded.
func (h *SystemHandlers) Snapshot(ctx context.Context) *HealthSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := &HealthSnapshot{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(ms.HeapAlloc) / (1 << 20),
		Databases:     make(map[string]string),
		Timestamp:     time.Now().UTC(),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryUsedPct = vm.UsedPercent
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		snap.CPUPct = pcts[0]
	}
	if du, err := disk.UsageWithContext(ctx, h.dataDir); err == nil {
		snap.DiskUsedPct = du.UsedPercent
		snap.DiskFreeGB = float64(du.Free) / (1 << 30)
	}

	for _, db := range []*database.DB{h.coreDB, h.cacheDB} {
		if db == nil {
			continue
		}
		if err := db.QuickCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			snap.Databases[db.Name()] = err.Error()
			snap.Status = "degraded"
			continue
		}
		snap.Databases[db.Name()] = "ok"
	}

	return snap
}

// HandleHealth serves GET /api/system/health.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snap := h.Snapshot(ctx)
	status := http.StatusOK
	if snap.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap, h.log)
}

// DatabaseStats describes one database file.
type DatabaseStats struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	PageCount int64  `json:"page_count"`
	PageSize  int64  `json:"page_size"`
}

// HandleDatabaseStats serves GET /api/system/database/stats.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	out := make([]DatabaseStats, 0, 2)
	for _, db := range []*database.DB{h.coreDB, h.cacheDB} {
		if db == nil {
			continue
		}
		stats := DatabaseStats{Name: db.Name(), Path: db.Path()}
		if info, err := os.Stat(db.Path()); err == nil {
			stats.SizeBytes = info.Size()
		}
		_ = db.QueryRow("PRAGMA page_count").Scan(&stats.PageCount)
		_ = db.QueryRow("PRAGMA page_size").Scan(&stats.PageSize)
		out = append(out, stats)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"databases": out}, h.log)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
