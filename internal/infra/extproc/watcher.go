package extproc

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"opmcpd/internal/infra/telemetry"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the server set whenever the config file changes on
// disk. The parent directory is watched so editor rename-and-replace
// writes are caught. Blocks until ctx is canceled.
func (m *Manager) Watch(ctx context.Context, loader *Loader, path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("config watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		m.logger.Warn("config watcher add failed", zap.String("path", dir), zap.Error(err))
		return
	}
	target := filepath.Clean(path)

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				m.logger.Warn("config watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		case <-timerChan(timer):
			timer = nil
			cfg, err := loader.Load(path)
			if err != nil {
				m.logger.Warn("config reload skipped: file invalid",
					telemetry.EventField(telemetry.EventConfigReload),
					zap.Error(err))
				continue
			}
			m.logger.Info("config changed, reloading server set",
				telemetry.EventField(telemetry.EventConfigReload),
				zap.Int("servers", len(cfg.Servers)))
			m.Reload(ctx, cfg.Servers)
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
