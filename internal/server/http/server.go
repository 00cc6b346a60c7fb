package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oxbowlabs/steward/internal/runtime"
	"github.com/oxbowlabs/steward/internal/work"
)

// Server is the read-only ops surface: health, queue depths, item lookup,
// and current escalations.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server

	mu  sync.Mutex
	lis net.Listener
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: mux}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/queue/status", s.handleQueueStatus)
	mux.HandleFunc("/v1/items/get", s.handleItemGet)
	mux.HandleFunc("/v1/escalations", s.handleEscalations)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lis = l
	s.mu.Unlock()
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// Addr returns the bound listen address, for tests using ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// itemView is the wire shape of one item. The claim token stays internal.
type itemView struct {
	ID              string     `json:"id"`
	Role            string     `json:"role"`
	Priority        string     `json:"priority"`
	State           string     `json:"state"`
	Title           string     `json:"title,omitempty"`
	Labels          []string   `json:"labels,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	DeadlineAt      *time.Time `json:"deadline_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	AttemptCount    int        `json:"attempt_count"`
	LastError       string     `json:"last_error,omitempty"`
	EscalationLevel int        `json:"escalation_level"`
	Withdrawn       bool       `json:"withdrawn,omitempty"`
	Breached        bool       `json:"breached,omitempty"`
}

func viewOf(it *work.Item) itemView {
	v := itemView{
		ID:              it.ID,
		Role:            string(it.Role),
		Priority:        it.Priority.String(),
		State:           string(it.State),
		Title:           it.Title,
		Labels:          it.Labels,
		CreatedAt:       it.CreatedAt,
		AssignedAt:      it.AssignedAt,
		CompletedAt:     it.CompletedAt,
		AttemptCount:    it.AttemptCount,
		LastError:       it.LastError,
		EscalationLevel: it.EscalationLevel,
		Withdrawn:       it.Withdrawn,
		Breached:        it.Breached,
	}
	if it.HasDeadline {
		d := it.DeadlineAt
		v.DeadlineAt = &d
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type roleStatus struct {
	Role        string         `json:"role"`
	Depths      map[string]int `json:"depths"`
	SlotsInUse  int            `json:"slots_in_use"`
	SlotsLimit  int            `json:"slots_limit"`
	QueuedTotal int            `json:"queued_total"`
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.rt.Config()
	var out []roleStatus
	roles := append(cfg.Roles(), work.RoleDeadLetter)
	for _, role := range roles {
		depths := s.rt.Store().Depths(role)
		rs := roleStatus{
			Role:       string(role),
			Depths:     make(map[string]int, work.NumPriorities),
			SlotsInUse: s.rt.SlotsInUse(role),
			SlotsLimit: cfg.ConcurrencyPerRole[string(role)],
		}
		for p := work.P0; p <= work.P4; p++ {
			rs.Depths[p.String()] = depths[p]
			rs.QueuedTotal += depths[p]
		}
		out = append(out, rs)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": out})
}

func (s *Server) handleItemGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}
	it, ok := s.rt.Store().Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not tracked"})
		return
	}
	history, err := s.rt.Journal().History(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item":    viewOf(it),
		"history": history,
	})
}

func (s *Server) handleEscalations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	escalated := make([]itemView, 0)
	for _, it := range s.rt.Store().Items() {
		if it.State == work.StateEscalated || it.EscalationLevel > 0 {
			escalated = append(escalated, viewOf(it))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"escalations": escalated})
}
