package config

import "sync"

var (
	defaultOverlayMu        sync.Mutex
	defaultOverlayFns       []func() error
	defaultOverlaysApplied  bool
	defaultOverlayApplyErrs []error
)

// RegisterDefaultOverlay queues an overlay installer that runs once before
// the first configuration load. Packages contributing schema fragments call
// this from init.
func RegisterDefaultOverlay(fn func() error) {
	if fn == nil {
		return
	}
	defaultOverlayMu.Lock()
	defer defaultOverlayMu.Unlock()
	if defaultOverlaysApplied {
		// Late registration still takes effect immediately.
		if err := fn(); err != nil {
			defaultOverlayApplyErrs = append(defaultOverlayApplyErrs, err)
		}
		return
	}
	defaultOverlayFns = append(defaultOverlayFns, fn)
}

// InstallDefaultOverlays runs every queued overlay installer exactly once.
func InstallDefaultOverlays() error {
	defaultOverlayMu.Lock()
	defer defaultOverlayMu.Unlock()
	if !defaultOverlaysApplied {
		defaultOverlaysApplied = true
		for _, fn := range defaultOverlayFns {
			if err := fn(); err != nil {
				defaultOverlayApplyErrs = append(defaultOverlayApplyErrs, err)
			}
		}
		defaultOverlayFns = nil
	}
	if len(defaultOverlayApplyErrs) > 0 {
		return defaultOverlayApplyErrs[0]
	}
	return nil
}
