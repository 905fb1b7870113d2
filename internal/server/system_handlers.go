// Package server provides the HTTP server and routing for Steward.
package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/aristath/steward/internal/scheduler"
)

// SystemHandlers serves the monitoring and operations surface.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   []*database.DB
	securities  *universe.SecurityRepository
	scheduler   *scheduler.Scheduler
}

// DBInfo describes one database file.
type DBInfo struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	SizeMB float64 `json:"size_mb"`
}

// SystemStatusResponse is the body of GET /api/system/status.
type SystemStatusResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	SecurityCount int      `json:"security_count"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	DiskPercent   float64  `json:"disk_percent"`
	Databases     []DBInfo `json:"databases"`
	TotalSizeMB   float64  `json:"total_size_mb"`
}

// JobsStatusResponse is the body of GET /api/system/jobs.
type JobsStatusResponse struct {
	TotalJobs int                 `json:"total_jobs"`
	Jobs      []scheduler.JobInfo `json:"jobs"`
}

// NewSystemHandlers creates a new system handlers instance.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases []*database.DB,
	securities *universe.SecurityRepository,
	sched *scheduler.Scheduler,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		securities:  securities,
		scheduler:   sched,
	}
}

// HandleStatus returns uptime, resource usage and database sizes.
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	securityCount := 0
	if h.securities != nil {
		count, err := h.securities.Count(true)
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to count securities")
		} else {
			securityCount = count
		}
	}

	cpuPercent, memPercent := h.systemStats()

	diskPercent := 0.0
	if usage, err := disk.Usage(h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		diskPercent = usage.UsedPercent
	}

	databases, totalMB := h.databaseStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		Version:       serverVersion,
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		SecurityCount: securityCount,
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		DiskPercent:   diskPercent,
		Databases:     databases,
		TotalSizeMB:   totalMB,
	}

	h.writeJSON(w, response)
}

// HandleJobs returns scheduler job status.
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobInfo{}
	if h.scheduler != nil {
		jobs = h.scheduler.Jobs()
	}

	h.writeJSON(w, JobsStatusResponse{
		TotalJobs: len(jobs),
		Jobs:      jobs,
	})
}

// HandleTriggerJob starts a registered job in the background.
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.scheduler == nil {
		http.Error(w, "Scheduler not available", http.StatusServiceUnavailable)
		return
	}
	if err := h.scheduler.Trigger(name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	h.log.Info().Str("job", name).Msg("Job triggered manually")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "triggered",
		"job":    name,
	})
}

// systemStats samples CPU and RAM usage. The CPU window is 100ms so the
// status call responds quickly while still giving a real reading.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// databaseStats sizes the managed database files plus the history store.
func (h *SystemHandlers) databaseStats() ([]DBInfo, float64) {
	databases := []DBInfo{}
	totalMB := 0.0

	for _, db := range h.databases {
		if db == nil {
			continue
		}
		info, err := os.Stat(db.Path())
		if err != nil {
			continue
		}
		sizeMB := float64(info.Size()) / 1024 / 1024
		totalMB += sizeMB
		databases = append(databases, DBInfo{
			Name:   db.Name(),
			Path:   db.Path(),
			SizeMB: sizeMB,
		})
	}

	historyPath := filepath.Join(h.dataDir, "history.db")
	if info, err := os.Stat(historyPath); err == nil {
		sizeMB := float64(info.Size()) / 1024 / 1024
		totalMB += sizeMB
		databases = append(databases, DBInfo{
			Name:   "history",
			Path:   historyPath,
			SizeMB: sizeMB,
		})
	}

	return databases, totalMB
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
