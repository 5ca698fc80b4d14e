package console

import (
	"net/http"
	"os"
	"sync"
)

// VideoSlot holds the local video shown by the page's <video> element.
type VideoSlot struct {
	mu          sync.Mutex
	path        string
	contentType string
	version     uint64
}

// SetVideo implements media.VideoSlot.
func (v *VideoSlot) SetVideo(path, contentType string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.path, v.contentType = path, contentType
	v.version++
}

// ClearVideo implements media.VideoSlot.
func (v *VideoSlot) ClearVideo() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.path, v.contentType = "", ""
	v.version++
}

// Current returns the slot contents; path is empty when no video is mounted.
func (v *VideoSlot) Current() (path, contentType string, version uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.path, v.contentType, v.version
}

// ServeHTTP serves the mounted video with range support.
func (v *VideoSlot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path, contentType, _ := v.Current()
	if path == "" {
		http.Error(w, "No local video", http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "Local video unavailable", http.StatusNotFound)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		http.Error(w, "Local video unavailable", http.StatusNotFound)
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}
