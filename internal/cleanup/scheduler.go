package cleanup

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Scheduler handles cleanup of temporary files and stale exports
type Scheduler struct {
	dirs     []string
	interval time.Duration
	maxAge   time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewScheduler creates a new cleanup scheduler over dirs
func NewScheduler(dirs []string, intervalMinutes, maxAgeHours int) *Scheduler {
	return &Scheduler{
		dirs:     dirs,
		interval: time.Duration(intervalMinutes) * time.Minute,
		maxAge:   time.Duration(maxAgeHours) * time.Hour,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start runs one sweep immediately, then one per interval
func (s *Scheduler) Start() {
	log.Info("Running initial cleanup...")
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	log.WithFields(log.Fields{"interval": s.interval, "max_age": s.maxAge}).Info("Cleanup scheduler started")
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		log.Info("Cleanup scheduler stopped")
	})
}

// Sweep removes files older than maxAge and then empty subdirectories.
// It returns the number of files removed.
func (s *Scheduler) Sweep() int {
	now := s.now()
	var deletedCount int
	var deletedSize int64

	for _, dir := range s.dirs {
		var emptyCandidates []string
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				if path != dir {
					emptyCandidates = append(emptyCandidates, path)
				}
				return nil
			}

			age := now.Sub(info.ModTime())
			if age <= s.maxAge {
				return nil
			}
			if err := os.Remove(path); err != nil {
				log.WithError(err).Warnf("Failed to delete old file %s", path)
				return nil
			}
			deletedCount++
			deletedSize += info.Size()
			log.Debugf("Deleted old file: %s (age: %s, size: %dKB)", filepath.Base(path), age.Round(time.Hour), info.Size()/1024)
			return nil
		})
		if err != nil {
			log.WithError(err).Errorf("Error during cleanup of %s", dir)
		}

		// deepest first; os.Remove fails harmlessly on non-empty dirs
		for i := len(emptyCandidates) - 1; i >= 0; i-- {
			os.Remove(emptyCandidates[i])
		}
	}

	if deletedCount > 0 {
		log.Infof("Cleanup complete: %d files deleted, %.2fMB freed", deletedCount, float64(deletedSize)/(1024*1024))
	}
	return deletedCount
}

// EnsureDirs creates each directory if it doesn't exist
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		log.Debugf("Directory ready: %s", dir)
	}
	return nil
}
