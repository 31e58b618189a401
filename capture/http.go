// CLAUDE:SUMMARY HTTP control surface: chi routes for start/stop/status/history/archive, websocket event stream, bcrypt Basic auth, /metrics.
package capture

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/pagesnap/capture/report"
	"github.com/hazyhaar/pagesnap/horosafe"
	"github.com/hazyhaar/pagesnap/kit"
	"github.com/hazyhaar/pagesnap/shield"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Handler returns the HTTP control surface.
func (c *Capturer) Handler() http.Handler {
	cfg, _ := c.config()
	ep := c.Endpoints()

	limiter := shield.NewRateLimiter(cfg.Server.RateLimit, time.Minute)
	limiter.StartGC(c.closed)

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{"status": "ok", "active": len(c.guard.Active())})
	})

	r.Group(func(r chi.Router) {
		if cfg.Server.BasicAuthUser != "" {
			r.Use(basicAuth(cfg.Server.BasicAuthUser, cfg.Server.BasicAuthHash))
		}
		if c.metrics != nil {
			r.Handle("/metrics", c.metrics.Handler())
		}

		r.Route("/api/captures", func(r chi.Router) {
			r.With(limiter.Middleware).Post("/", func(w http.ResponseWriter, r *http.Request) {
				var req StartRequest
				body, err := horosafe.LimitedReadAll(r.Body, 64<<10)
				if err == nil {
					err = json.Unmarshal(body, &req)
				}
				if err != nil {
					writeError(w, 400, err)
					return
				}
				resp, err := ep.Start(httpContext(r), &req)
				if err != nil {
					writeError(w, statusCode(err), err)
					return
				}
				writeJSON(w, 202, resp)
			})

			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				hist, err := c.History(r.Context(), queryInt(r, "limit", 50))
				if err != nil {
					writeError(w, 500, err)
					return
				}
				active := c.Active()
				if active == nil {
					active = []*Status{}
				}
				writeJSON(w, 200, map[string]any{"active": active, "history": hist})
			})

			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				resp, err := ep.Status(httpContext(r), &SessionRequest{ID: chi.URLParam(r, "id")})
				if err != nil {
					writeError(w, statusCode(err), err)
					return
				}
				writeJSON(w, 200, resp)
			})

			r.Post("/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
				resp, err := ep.Stop(httpContext(r), &SessionRequest{ID: chi.URLParam(r, "id")})
				if err != nil {
					writeError(w, statusCode(err), err)
					return
				}
				writeJSON(w, 202, resp)
			})

			r.Get("/{id}/archive", c.serveArchive)
			r.Get("/{id}/events", c.serveEvents)
		})
	})
	return r
}

// serveArchive streams the ZIP of a finished session, from memory or from
// the output directory.
func (c *Capturer) serveArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := c.Status(r.Context(), id)
	if err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	if st.State != StateDone {
		writeJSON(w, 409, map[string]string{"error": "capture is " + string(st.State)})
		return
	}

	var name, path string
	var data []byte
	if res, ok := c.Result(id); ok {
		name, path, data = res.ArchiveName, res.ArchivePath, res.Archive
	} else if c.store != nil {
		rec, err := c.store.GetCapture(r.Context(), id)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if rec != nil {
			path = rec.ArchivePath
			name = filepath.Base(rec.ArchivePath)
		}
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	switch {
	case data != nil:
		http.ServeContent(w, r, name, st.Ended, bytes.NewReader(data))
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			writeError(w, 404, err)
			return
		}
		defer f.Close()
		http.ServeContent(w, r, name, st.Ended, f)
	default:
		w.Header().Del("Content-Disposition")
		writeJSON(w, 404, map[string]string{"error": "archive not available"})
	}
}

// serveEvents upgrades to a websocket and relays the session's events until
// its terminal event or until the client goes away.
func (c *Capturer) serveEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, cancel := c.hub.Subscribe(id)
	defer cancel()

	st, err := c.Status(r.Context(), id)
	if err != nil {
		writeError(w, statusCode(err), err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("capture: websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	first := report.Event{SessionID: id, Type: report.EventStatus, State: string(st.State), Text: st.Text, Done: st.Done, Total: st.Total, Reason: st.Reason, Time: c.now()}
	if err := conn.WriteJSON(first); err != nil || st.State.Terminal() {
		closeSocket(conn)
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				closeSocket(conn)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == report.EventDone || ev.Type == report.EventError {
				closeSocket(conn)
				return
			}
		}
	}
}

func closeSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// basicAuth checks credentials against a bcrypt hash.
func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="pagesnap"`)
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func httpContext(r *http.Request) context.Context {
	return kit.WithTransport(r.Context(), kit.TransportHTTP)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return 400
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrAlreadyRunning):
		return 409
	case errors.Is(err, ErrBusy):
		return 429
	}
	return 500
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
