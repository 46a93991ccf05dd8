package livestream

import (
	"log/slog"
	"sync"
)

// Registry owns every LiveStream singleton. The map is insert-only;
// a stream object lives for the whole process once created.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*LiveStream

	logger    *slog.Logger
	onStandby func(*LiveStream)
}

// NewRegistry returns an empty registry. onStandby is invoked when a
// Connect flips a stream from Offline to Standby, and is expected to
// spawn the encoding task for it.
func NewRegistry(log *slog.Logger, onStandby func(*LiveStream)) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		streams:   make(map[string]*LiveStream),
		logger:    log,
		onStandby: onStandby,
	}
}

// GetOrCreate returns the singleton for a channel/quality pair.
func (r *Registry) GetOrCreate(displayChannelID, quality string) *LiveStream {
	id := displayChannelID + "-" + quality
	r.mu.Lock()
	defer r.mu.Unlock()
	if ls, ok := r.streams[id]; ok {
		return ls
	}
	ls := &LiveStream{
		ID:        id,
		Channel:   displayChannelID,
		Quality:   quality,
		status:    StatusOffline,
		detail:    "ライブストリームは Offline です。",
		registry:  r,
		onStandby: r.onStandby,
		logger:    r.logger,
	}
	r.streams[id] = ls
	return ls
}

// Get returns an existing stream or nil.
func (r *Registry) Get(displayChannelID, quality string) *LiveStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[displayChannelID+"-"+quality]
}

// All returns a snapshot of every stream object.
func (r *Registry) All() []*LiveStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*LiveStream, 0, len(r.streams))
	for _, ls := range r.streams {
		out = append(out, ls)
	}
	return out
}

// reclaimIdling shuts down other streams nobody is watching so their
// tuner and encoder become available to ls.
func (ls *LiveStream) reclaimIdling() {
	if ls.registry == nil {
		return
	}
	for _, other := range ls.registry.All() {
		if other == ls {
			continue
		}
		if status, _ := other.Status(); status == StatusIdling {
			other.SetStatus(StatusOffline, "他のライブストリームの開始のため終了しました。")
		}
	}
}
