package server

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"resumeunlocked/internal/errors"
)

// certReloader serves the current server certificate and swaps it when
// the certificate or key file on disk changes
type certReloader struct {
	mu sync.RWMutex

	certFile string
	keyFile  string
	cert     *tls.Certificate

	lastModTime map[string]time.Time

	fsWatcher     *fsnotify.Watcher
	debounceDelay time.Duration
	debounceTimer *time.Timer

	stopChan   chan struct{}
	reloadChan chan struct{}
	stopOnce   sync.Once

	logger  *errors.Logger
	running bool
}

// newCertReloader loads the key pair once and prepares the watcher
func newCertReloader(certFile, keyFile string, debounceDelay time.Duration, logger *errors.Logger) (*certReloader, error) {
	if debounceDelay == 0 {
		debounceDelay = time.Second
	}

	cr := &certReloader{
		certFile:      certFile,
		keyFile:       keyFile,
		lastModTime:   make(map[string]time.Time),
		debounceDelay: debounceDelay,
		stopChan:      make(chan struct{}),
		reloadChan:    make(chan struct{}, 1),
		logger:        logger,
	}
	if err := cr.reload(); err != nil {
		return nil, err
	}
	return cr, nil
}

// GetCertificate implements tls.Config.GetCertificate
func (cr *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return cr.cert, nil
}

// reload reads the key pair from disk. The previous certificate stays in
// place when the new pair does not parse.
func (cr *certReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(cr.certFile, cr.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load server cert/key from files: %w", err)
	}

	cr.mu.Lock()
	cr.cert = &cert
	cr.mu.Unlock()
	return nil
}

// Start begins watching the certificate files
func (cr *certReloader) Start() error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if cr.running {
		return fmt.Errorf("certificate watcher is already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	cr.fsWatcher = watcher

	for _, file := range cr.files() {
		if stat, err := os.Stat(file); err == nil {
			cr.lastModTime[file] = stat.ModTime()
		}
		// The directory catches atomic replacements via rename
		if err := watcher.Add(filepath.Dir(file)); err != nil {
			cr.logger.Warn("Failed to watch certificate directory", "file", file, "error", err)
		}
	}

	cr.running = true
	go cr.watchLoop()

	cr.logger.Info("Certificate file watcher started",
		"files", cr.files(),
		"debounce_delay", cr.debounceDelay)
	return nil
}

// Stop ends the watch loop; safe to call more than once
func (cr *certReloader) Stop() {
	cr.stopOnce.Do(func() {
		cr.mu.Lock()
		defer cr.mu.Unlock()

		close(cr.stopChan)
		if cr.debounceTimer != nil {
			cr.debounceTimer.Stop()
		}
		if cr.fsWatcher != nil {
			if err := cr.fsWatcher.Close(); err != nil {
				cr.logger.LogError(err, "Failed to close file system watcher")
			}
		}
		cr.running = false
	})
}

func (cr *certReloader) files() []string {
	return []string{cr.certFile, cr.keyFile}
}

func (cr *certReloader) watchLoop() {
	for {
		select {
		case event, ok := <-cr.fsWatcher.Events:
			if !ok {
				return
			}
			if cr.shouldProcessEvent(event) {
				cr.scheduleReload()
			}

		case err, ok := <-cr.fsWatcher.Errors:
			if !ok {
				return
			}
			cr.logger.LogError(err, "File watcher error")

		case <-cr.reloadChan:
			if !cr.hasAnyFileChanged() {
				continue
			}
			if err := cr.reload(); err != nil {
				cr.logger.LogError(err, "Failed to reload TLS certificates")
				continue
			}
			cr.logger.Info("TLS certificates reloaded successfully")

		case <-cr.stopChan:
			return
		}
	}
}

func (cr *certReloader) shouldProcessEvent(event fsnotify.Event) bool {
	watched := slices.ContainsFunc(cr.files(), func(file string) bool {
		return event.Name == file || filepath.Base(event.Name) == filepath.Base(file)
	})
	return watched && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (cr *certReloader) hasAnyFileChanged() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	changed := false
	for _, file := range cr.files() {
		stat, err := os.Stat(file)
		if err != nil {
			continue
		}
		if last, ok := cr.lastModTime[file]; !ok || stat.ModTime().After(last) {
			cr.lastModTime[file] = stat.ModTime()
			changed = true
		}
	}
	return changed
}

// scheduleReload debounces bursts of events into one reload
func (cr *certReloader) scheduleReload() {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if cr.debounceTimer != nil {
		cr.debounceTimer.Stop()
	}
	cr.debounceTimer = time.AfterFunc(cr.debounceDelay, func() {
		select {
		case cr.reloadChan <- struct{}{}:
		default:
		}
	})
}
