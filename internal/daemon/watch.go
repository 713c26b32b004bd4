package daemon

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.brondum.dev/steward/internal/core"
)

// reloadConfig reparses the config file and re-registers the server set.
// Running processes are untouched; removed servers simply stop being
// startable and keep their records until stopped.
func (d *Daemon) reloadConfig() error {
	configPath := core.GetConfigFilePath()

	newConfig, err := core.LoadConfig(configPath)
	if err != nil {
		// Config parsing failed - keep the old config and log the error
		slog.Error("Configuration file has syntax errors, keeping previous configuration",
			"file", configPath,
			"error", err)
		return err
	}

	newConfig.ConfigPath = core.Config.ConfigPath
	core.Config = newConfig

	if err := d.orch.RegisterServers(newConfig.Servers); err != nil {
		slog.Error("Re-registration reported a problem", "error", err)
	}

	slog.Info("Configuration reloaded", "servers", len(newConfig.Servers))
	if d.database != nil {
		if err := d.database.LogDaemonEvent("config_reload", configPath); err != nil {
			slog.Error("Failed to log config reload", "error", err)
		}
	}
	return nil
}

// watchConfig watches the config file and reloads it on changes
func (d *Daemon) watchConfig() {
	configPath := core.GetConfigFilePath()
	if _, err := os.Stat(configPath); err != nil {
		slog.Debug("No config file to watch", "path", configPath)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config file watcher", "error", err)
		return
	}

	if err := watcher.Add(configPath); err != nil {
		slog.Error("Failed to watch config file", "error", err, "path", configPath)
		watcher.Close()
		return
	}

	// Debounce rapid editor write sequences into one reload
	var reloadTimer *time.Timer
	var reloadMutex sync.Mutex

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-d.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				slog.Debug("Filesystem event on config file", "event", event.Op.String(), "file", event.Name)

				// Editors using atomic writes remove the original from the
				// watch list; re-add after RENAME, REMOVE, or CREATE. Retry
				// briefly since the file may not exist mid-rename.
				if event.Op&(fsnotify.Rename|fsnotify.Remove|fsnotify.Create) != 0 {
					go func() {
						for delay := 10 * time.Millisecond; delay < 200*time.Millisecond; delay *= 2 {
							time.Sleep(delay)
							if _, err := os.Stat(configPath); err == nil {
								if err := watcher.Add(configPath); err == nil {
									return
								}
							}
						}
						slog.Warn("Could not re-watch config file after rename", "path", configPath)
					}()
				}

				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					reloadMutex.Lock()
					if reloadTimer != nil {
						reloadTimer.Stop()
					}
					reloadTimer = time.AfterFunc(250*time.Millisecond, func() {
						d.reloadConfig()
					})
					reloadMutex.Unlock()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()
}
