package backup

import (
	"sync"

	"idevicedesk/models"
)

// Tracker holds the progress of running and recently finished backups.
// Progress never moves backwards within one run and a completed or failed
// entry is frozen.
type Tracker struct {
	runs      map[string]*models.BackupProgress
	listeners []func(id string, p models.BackupProgress)
	removed   []func(id string)
	mu        sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{
		runs: make(map[string]*models.BackupProgress),
	}
}

// OnChange registers fn to be called after every change of any run
func (t *Tracker) OnChange(fn func(id string, p models.BackupProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// OnRemove registers fn to be called after a run is forgotten
func (t *Tracker) OnRemove(fn func(id string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removed = append(t.removed, fn)
}

// Start registers a new run in the preparing phase
func (t *Tracker) Start(id string) {
	t.mu.Lock()
	p := &models.BackupProgress{Status: models.BackupPreparing}
	t.runs[id] = p
	snap, listeners := *p, t.listeners
	t.mu.Unlock()

	t.emit(listeners, id, snap)
}

// phaseOrder ranks the non-terminal phases; a run never moves to a lower one
var phaseOrder = map[string]int{
	models.BackupPreparing: 0,
	models.BackupRunning:   1,
	models.BackupFinishing: 2,
}

// Update moves a running backup forward. An empty status or file keeps the
// previous value, as does a status of an earlier phase. It reports whether
// anything changed.
func (t *Tracker) Update(id, status string, progress float64, file string) bool {
	return t.apply(id, func(p *models.BackupProgress) {
		if status != "" && phaseOrder[status] >= phaseOrder[p.Status] {
			p.Status = status
		}
		if progress = clamp(progress); progress > p.Progress {
			p.Progress = progress
		}
		if file != "" {
			p.CurrentFile = file
		}
	})
}

// Complete marks the run as completed at 100%
func (t *Tracker) Complete(id string) bool {
	return t.apply(id, func(p *models.BackupProgress) {
		p.Status = models.BackupCompleted
		p.Progress = 100
		p.CurrentFile = ""
	})
}

// Fail marks the run as failed with err
func (t *Tracker) Fail(id string, err error) bool {
	return t.apply(id, func(p *models.BackupProgress) {
		p.Status = models.BackupFailed
		if err != nil {
			p.Error = err.Error()
		}
	})
}

// Get returns the progress of id, or an "unknown" status for ids never seen
func (t *Tracker) Get(id string) models.BackupProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.runs[id]; ok {
		return *p
	}
	return models.BackupProgress{Status: models.BackupUnknown}
}

// GetAll returns a copy of every tracked run
func (t *Tracker) GetAll() map[string]models.BackupProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]models.BackupProgress, len(t.runs))
	for id, p := range t.runs {
		out[id] = *p
	}
	return out
}

// Remove forgets a run
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	_, ok := t.runs[id]
	delete(t.runs, id)
	removed := t.removed
	t.mu.Unlock()

	if ok {
		for _, fn := range removed {
			fn(id)
		}
	}
}

func (t *Tracker) apply(id string, mutate func(p *models.BackupProgress)) bool {
	t.mu.Lock()
	p, ok := t.runs[id]
	if !ok || p.Terminal() {
		t.mu.Unlock()
		return false
	}
	before := *p
	mutate(p)
	snap, listeners := *p, t.listeners
	t.mu.Unlock()

	if snap == before {
		return false
	}
	t.emit(listeners, id, snap)
	return true
}

func (t *Tracker) emit(listeners []func(string, models.BackupProgress), id string, p models.BackupProgress) {
	for _, fn := range listeners {
		fn(id, p)
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
