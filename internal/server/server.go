// Package server implements the HTTP surface (C10): a root Server struct
// wiring the channel/HLS/EPG routes over whatever channels are currently
// registered, the way the teacher's own Server wires its tuner routes
// over whatever channel lineup UpdateChannels last set.
package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/retrovue/retrovue-core/internal/channelconfig"
	"github.com/retrovue/retrovue-core/internal/fanout"
	"github.com/retrovue/retrovue-core/internal/hls"
	"github.com/retrovue/retrovue-core/internal/schedule"
)

// ChannelRuntime bundles the live pieces one registered channel serves
// HTTP traffic from: the fanout reader (for /channel/{id}.ts) and the
// HLS segmenter (for /hls/{id}/...). Either may be nil for a channel
// running in a mode that doesn't expose that surface.
type ChannelRuntime struct {
	ChannelNumInt int
	Name          string
	Fanout        *fanout.Fanout
	HLS           *hls.Segmenter
}

// Server is the root HTTP surface, analogous to the teacher's own
// Server: one struct wiring every sub-handler, with a single entrypoint
// that (re)registers channels without requiring a process restart.
type Server struct {
	Addr                   string
	WaitForPlaylistTimeout time.Duration
	ViewerQueueDepth       int

	Provider *channelconfig.Provider
	Schedule *schedule.Service

	mu       sync.RWMutex
	channels map[string]*ChannelRuntime

	metricsHandler http.Handler
}

// NewServer constructs a Server. metricsHandler is typically
// promhttp.Handler(); passed in so internal/server doesn't need to
// depend on internal/metrics directly.
func NewServer(addr string, provider *channelconfig.Provider, sched *schedule.Service, metricsHandler http.Handler) *Server {
	return &Server{
		Addr:                   addr,
		WaitForPlaylistTimeout: 5 * time.Second,
		ViewerQueueDepth:       64,
		Provider:               provider,
		Schedule:               sched,
		channels:               make(map[string]*ChannelRuntime),
		metricsHandler:         metricsHandler,
	}
}

// RegisterChannel makes a channel's fanout/HLS surfaces servable. Calling
// it again for the same ID replaces the previous registration, the same
// "no restart needed" pattern as UpdateChannels.
func (s *Server) RegisterChannel(channelID string, rt *ChannelRuntime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channelID] = rt
}

func (s *Server) runtimeFor(channelID string) (*ChannelRuntime, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.channels[channelID]
	return rt, ok
}

// mux builds the route table fresh so tests can exercise it without a
// listening socket.
func (s *Server) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels", s.handleChannels)
	mux.HandleFunc("/channel/", s.handleChannelTS)
	mux.HandleFunc("/hls/", s.handleHLS)
	mux.HandleFunc("/api/epg", s.handleEPG)
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}
	return conditionalGZip(logRequests(mux))
}

// ListenAndServe runs the HTTP surface over h2c (HTTP/2 cleartext,
// falling back to HTTP/1.1) until ctx is canceled, then drains in-flight
// requests with a bounded shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	h2s := &http2.Server{}
	handler := h2c.NewHandler(s.mux(), h2s)
	srv := &http.Server{Addr: s.Addr, Handler: handler}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", s.Addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Print("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
		<-serverErr
		return nil
	}
}

type channelListEntry struct {
	ChannelID    string `json:"channel_id"`
	ChannelIDInt int    `json:"channel_id_int"`
	Name         string `json:"name"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	entries := make([]channelListEntry, 0, len(s.channels))
	for id, rt := range s.channels {
		entries = append(entries, channelListEntry{ChannelID: id, ChannelIDInt: rt.ChannelNumInt, Name: rt.Name})
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// handleChannelTS serves /channel/{id}.ts: a chunked, uncompressed MPEG-TS
// stream for the lifetime of the viewer's connection.
func (s *Server) handleChannelTS(w http.ResponseWriter, r *http.Request) {
	channelID, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/channel/"), ".ts")
	if !ok {
		http.NotFound(w, r)
		return
	}
	rt, ok := s.runtimeFor(channelID)
	if !ok || rt.Fanout == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Content-Encoding", "identity")
	flusher, _ := w.(http.Flusher)

	viewerID := uuid.NewString()
	viewer := rt.Fanout.Attach(viewerID, s.ViewerQueueDepth)
	defer rt.Fanout.Detach(viewerID)

	for {
		select {
		case chunk, ok := <-viewer.Chunks():
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				if !fanout.IsClientDisconnectWriteError(err) {
					log.Printf("server: channel %s viewer %s write: %v", channelID, viewerID, err)
				}
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

var hlsPathPattern = regexp.MustCompile(`^/hls/([^/]+)/(.+)$`)

func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	m := hlsPathPattern.FindStringSubmatch(r.URL.Path)
	if m == nil {
		http.NotFound(w, r)
		return
	}
	channelID, name := m[1], m[2]
	rt, ok := s.runtimeFor(channelID)
	if !ok || rt.HLS == nil {
		http.NotFound(w, r)
		return
	}

	if name == "live.m3u8" {
		if err := rt.HLS.WaitForPlaylist(r.Context(), s.WaitForPlaylistTimeout); err != nil {
			http.NotFound(w, r)
			return
		}
		playlist, err := rt.HLS.Playlist()
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache")
		fmt.Fprint(w, playlist)
		return
	}

	data, ok := rt.HLS.GetSegment(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	w.Write(data)
}

type epgEntry struct {
	ChannelID       string `json:"channel_id"`
	ChannelName     string `json:"channel_name"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	SlotMinutes     int    `json:"slot_minutes"`
	Error           string `json:"error,omitempty"`
}

type epgResponse struct {
	BroadcastDay string     `json:"broadcast_day"`
	Entries      []epgEntry `json:"entries"`
}

// handleEPG recomputes program-block metadata on demand by re-running
// compilation with the same deterministic counters CompileDay already
// uses; it never mutates the execution window store.
func (s *Server) handleEPG(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("date")
	if day == "" {
		http.Error(w, "missing required query param: date", http.StatusBadRequest)
		return
	}
	filterChannel := r.URL.Query().Get("channel")

	var channelIDs []string
	if filterChannel != "" {
		channelIDs = []string{filterChannel}
	} else if s.Provider != nil {
		channelIDs = s.Provider.ChannelIDs()
	} else if s.Schedule != nil {
		channelIDs = s.Schedule.Channels()
	}

	resp := epgResponse{BroadcastDay: day}
	for _, id := range channelIDs {
		blocks, err := s.Schedule.CompileDay(id, day)
		if err != nil {
			resp.Entries = append(resp.Entries, epgEntry{ChannelID: id, Error: err.Error()})
			continue
		}
		name := id
		if s.Provider != nil {
			if cfg, ok := s.Provider.ChannelConfig(id); ok {
				name = cfg.Name
			}
		}
		for _, b := range blocks {
			resp.Entries = append(resp.Entries, epgEntry{
				ChannelID:       id,
				ChannelName:     name,
				StartTime:       time.UnixMilli(b.StartUTCMS).UTC().Format(time.RFC3339),
				EndTime:         time.UnixMilli(b.EndUTCMS).UTC().Format(time.RFC3339),
				Title:           blockTitle(b),
				DurationMinutes: int(b.DurationMS() / 60000),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func blockTitle(b schedule.Block) string {
	for _, seg := range b.Segments {
		if seg.Type == schedule.SegmentAct {
			return seg.AssetURI
		}
	}
	return ""
}

// conditionalGZip compresses text responses, skipping .ts and .m3u8
// routes entirely so MPEG-TS and playlist bytes are never touched,
// matching the original's ConditionalGZipMiddleware path exclusion.
func conditionalGZip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".ts") || strings.HasSuffix(r.URL.Path, ".m3u8") {
			next.ServeHTTP(w, r)
			return
		}
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzip.NewWriter(w)
		defer gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gz: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.gz.Write(b)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("server: req=%s method=%s path=%s dur=%s", reqID, r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}
