package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"

	"guru.chat/chat"
)

// Server is the request-handler layer over the session store and the turn
// orchestrator.
type Server struct {
	orch         *chat.Orchestrator
	store        chat.Store
	sealer       *Sealer
	degraded     bool
	sidebarLimit int
}

// NewServer wires the handler layer. degraded marks a missing completion
// service: browsing and deletion work, submits are rejected.
func NewServer(orch *chat.Orchestrator, store chat.Store, sealer *Sealer, sidebarLimit int, degraded bool) *Server {
	return &Server{
		orch:         orch,
		store:        store,
		sealer:       sealer,
		degraded:     degraded,
		sidebarLimit: sidebarLimit,
	}
}

func (s *Server) StartHTTPServer(port int) error {
	s.registerRoutes()
	addr := fmt.Sprintf(":%d", port)
	log.Printf("[HTTP] listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}

func (s *Server) StartHTTPSServer(port int, certFile, keyFile string) error {
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServeTLS(addr, certFile, keyFile, nil)
}

func (s *Server) registerRoutes() {
	http.HandleFunc("/", s.handleIndex)
	http.HandleFunc("/new", s.handleNewChat)
	http.HandleFunc("/chat/", s.handleChatView)
	http.HandleFunc("/api/chat", s.handleSubmit)
	http.HandleFunc("/delete/", s.handleDelete)
	http.HandleFunc("/health", s.handleHealth)
}

// handleIndex sends the browser to its last-viewed chat when the sealed
// cookie still resolves to a live record, otherwise to a fresh one.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if id := s.sealer.lastViewedChat(r); id != "" {
		if _, err := s.store.Get(id); err == nil {
			http.Redirect(w, r, "/chat/"+id, http.StatusFound)
			return
		}
	}
	http.Redirect(w, r, "/new", http.StatusFound)
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	if !rateLimitAllow(r.RemoteAddr) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	rec, err := s.store.Create()
	if err != nil {
		log.Printf("[HTTP] create chat failed: %v", err)
		http.Error(w, "Failed to create chat", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/chat/"+rec.ID, http.StatusFound)
}

func (s *Server) handleChatView(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/chat/")
	if id == "" {
		http.Redirect(w, r, "/new", http.StatusFound)
		return
	}
	rec, err := s.store.Get(id)
	if err != nil {
		// Unknown or stale id: hand out a fresh chat instead of a 404.
		http.Redirect(w, r, "/new", http.StatusFound)
		return
	}
	recent, err := s.store.ListRecent(s.sidebarLimit)
	if err != nil {
		log.Printf("[HTTP] sidebar listing failed: %v", err)
	}

	s.sealer.rememberChat(w, rec.ID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := pageData{
		ChatID:   rec.ID,
		Title:    rec.Title,
		Messages: rec.Messages,
		Recent:   recent,
		Degraded: s.degraded,
	}
	if err := pageTemplate.Execute(w, data); err != nil {
		log.Printf("[HTTP] render failed: %v", err)
	}
}

type submitRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chat_id"`
}

type submitResponse struct {
	Response string `json:"response"`
	ChatID   string `json:"chat_id"`
	Title    string `json:"title,omitempty"`
}

// handleSubmit runs one turn: orchestrator semantics decide the outcome,
// this layer only translates errors to status codes.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rateLimitAllow(r.RemoteAddr) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded"})
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	res, err := s.orch.Submit(r.Context(), req.ChatID, req.Message)
	if err != nil {
		var completionErr *chat.CompletionError
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Message cannot be empty"})
		case errors.Is(err, chat.ErrUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "AI service not initialized."})
		case errors.As(err, &completionErr):
			log.Printf("[HTTP] completion failed for chat %s: %v", completionErr.ChatID, completionErr.Err)
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":   "Failed to communicate with the AI model. Please try again.",
				"chat_id": completionErr.ChatID,
			})
		default:
			log.Printf("[HTTP] submit failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		}
		return
	}

	s.sealer.rememberChat(w, res.ChatID)
	writeJSON(w, http.StatusOK, submitResponse{Response: res.Reply, ChatID: res.ChatID, Title: res.Title})
}

// handleDelete removes a chat and tells the browser where to go next: the
// newest remaining chat, or a brand new one.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rateLimitAllow(r.RemoteAddr) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/delete/")
	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Chat not found"})
			return
		}
		log.Printf("[HTTP] delete %s failed: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Internal error"})
		return
	}

	redirect := "/new"
	if remaining, err := s.store.ListRecent(1); err == nil && len(remaining) > 0 {
		redirect = "/chat/" + remaining[0].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "redirect_url": redirect})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "degraded": s.degraded})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] encode response: %v", err)
	}
}

type pageData struct {
	ChatID   string
	Title    string
	Messages []chat.Turn
	Recent   []chat.Summary
	Degraded bool
}

var pageTemplate = template.Must(template.New("page").Parse(pageHTML))

const pageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Healthguru</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, -apple-system, sans-serif; background: #FFF8F0; color: #2C1F3D; display: flex; min-height: 100vh; }
        .sidebar { width: 240px; background: #F5EDE1; border-right: 1px solid #E8DCC4; padding: 1rem; }
        .sidebar h1 { font-size: 1.2rem; margin: 0 0 1rem; }
        .sidebar a.newchat { display: block; padding: .5rem; text-align: center; background: #6B4C8A; color: white; border-radius: 8px; text-decoration: none; margin-bottom: 1rem; }
        .recent { list-style: none; padding: 0; margin: 0; }
        .recent li { display: flex; align-items: center; gap: .25rem; margin-bottom: .25rem; }
        .recent a { flex: 1; padding: .4rem .5rem; border-radius: 6px; color: #2C1F3D; text-decoration: none; overflow: hidden; white-space: nowrap; text-overflow: ellipsis; }
        .recent a:hover, .recent li.current a { background: #E8DCC4; }
        .recent button { border: none; background: none; cursor: pointer; color: #999; }
        .main { flex: 1; display: flex; flex-direction: column; max-width: 760px; margin: 0 auto; padding: 1.5rem; }
        .messages { flex: 1; }
        .turn { padding: 1rem 1.25rem; margin: .75rem 0; border-radius: 8px; white-space: pre-wrap; }
        .turn.user { background: #E8DCC4; border-left: 4px solid #6B4C8A; font-style: italic; }
        .turn.model { background: #FFFBF5; border: 1px solid #E8DCC4; }
        form { display: flex; gap: .5rem; margin-top: 1rem; }
        input[type="text"] { flex: 1; padding: 1rem 1.25rem; font-size: 1.05rem; border: 3px solid #6B4C8A; border-radius: 12px; background: #FFFBF5; outline: none; }
        input[type="submit"] { padding: 1rem 2rem; font-weight: 600; background: #6B4C8A; color: white; border: none; border-radius: 10px; cursor: pointer; }
        input[type="submit"]:disabled { opacity: .6; cursor: default; }
        .notice { padding: .75rem 1rem; background: #FBE9E7; border: 1px solid #D97757; border-radius: 8px; margin-bottom: 1rem; }
        .error { color: #B3261E; }
        @media (prefers-color-scheme: dark) {
            body { background: #181a1b; color: #e8e6e3; }
            .sidebar { background: #222326; border-color: #333; }
            .recent a { color: #e8e6e3; }
            .recent a:hover, .recent li.current a { background: #333; }
            .turn.user { background: #23262a; }
            .turn.model { background: #202124; border-color: #333; }
            input[type="text"] { background: #23262a; color: #e8e6e3; }
        }
    </style>
</head>
<body>
    <div class="sidebar">
        <h1>Healthguru</h1>
        <a class="newchat" href="/new">+ New chat</a>
        <ul class="recent">
            {{range .Recent}}
            <li{{if eq .ID $.ChatID}} class="current"{{end}}>
                <a href="/chat/{{.ID}}">{{.Title}}</a>
                <button title="Delete" onclick="deleteChat('{{.ID}}')">&times;</button>
            </li>
            {{end}}
        </ul>
    </div>
    <div class="main">
        {{if .Degraded}}<div class="notice">The AI service is not configured. You can browse past chats, but new messages are disabled.</div>{{end}}
        <div class="messages" id="messages">
            {{range .Messages}}
            <div class="turn {{.Role}}">{{.Text}}</div>
            {{end}}
        </div>
        <form id="chat-form" onsubmit="sendMessage(event); return false;">
            <input type="text" id="query-input" placeholder="Ask a wellness question..." autofocus{{if .Degraded}} disabled{{end}}>
            <input type="submit" id="send-button" value="Send"{{if .Degraded}} disabled{{end}}>
        </form>
    </div>
    <script>
        var chatId = {{.ChatID}};

        function addTurn(role, text) {
            var div = document.createElement('div');
            div.className = 'turn ' + role;
            div.textContent = text;
            document.getElementById('messages').appendChild(div);
            div.scrollIntoView();
            return div;
        }

        async function sendMessage(event) {
            event.preventDefault();
            var input = document.getElementById('query-input');
            var button = document.getElementById('send-button');
            var text = input.value.trim();
            if (!text) return;

            input.disabled = true;
            button.disabled = true;
            addTurn('user', text);

            try {
                var resp = await fetch('/api/chat', {
                    method: 'POST',
                    headers: {'Content-Type': 'application/json'},
                    body: JSON.stringify({message: text, chat_id: chatId})
                });
                var data = await resp.json();
                if (!resp.ok) throw new Error(data.error || 'Request failed');
                chatId = data.chat_id;
                history.replaceState(null, '', '/chat/' + chatId);
                addTurn('model', data.response);
                input.value = '';
            } catch (err) {
                var div = addTurn('model', 'Error: ' + err.message);
                div.classList.add('error');
            } finally {
                input.disabled = false;
                button.disabled = false;
                input.focus();
            }
        }

        async function deleteChat(id) {
            var resp = await fetch('/delete/' + id, {method: 'POST'});
            var data = await resp.json();
            if (data.success) {
                window.location = data.redirect_url;
            }
        }
    </script>
</body>
</html>`
