// Package web serves the batchwand dashboard: a single-page view of the
// run queue with live updates pushed over a websocket.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"batchwand/internal/pipeline"
	"batchwand/internal/storage"
)

const recentRunLimit = 50

type WebServer struct {
	port     int
	store    *storage.Store
	pipeline *pipeline.Pipeline
	log      *slog.Logger
	upgrader websocket.Upgrader
	hub      *WebSocketHub
}

type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	log        *slog.Logger
}

// DashboardData is one full snapshot of the dashboard state. The same
// shape is served on /api/stats and pushed over the websocket.
type DashboardData struct {
	QueueStats QueueStats   `json:"queueStats"`
	RecentRuns []RunSummary `json:"recentRuns"`
	Timestamp  time.Time    `json:"timestamp"`
}

type QueueStats struct {
	QueuedCount    int `json:"queuedCount"`
	RunningCount   int `json:"runningCount"`
	CompletedCount int `json:"completedCount"`
	FailedCount    int `json:"failedCount"`
}

type RunSummary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Input     string    `json:"input"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewWebServer(port int, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) *WebServer {
	if log == nil {
		log = slog.Default()
	}
	hub := &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		log:        log,
	}

	return &WebServer{
		port:     port,
		store:    store,
		pipeline: pipe,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		hub: hub,
	}
}

func (ws *WebServer) Start(ctx context.Context) error {
	go ws.hub.run(ctx)
	go ws.watchResults(ctx)
	go ws.broadcastMetrics(ctx)

	router := mux.NewRouter()

	router.HandleFunc("/", ws.handleDashboard).Methods("GET")
	router.HandleFunc("/api/stats", ws.handleAPIStats).Methods("GET")
	router.HandleFunc("/api/runs", ws.handleAPIRuns).Methods("GET")
	router.HandleFunc("/api/queue", ws.handleAPIQueue).Methods("GET")
	router.HandleFunc("/ws", ws.handleWebSocket).Methods("GET")

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", ws.port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	ws.log.Info("dashboard listening", "addr", fmt.Sprintf("http://localhost:%d", ws.port))
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	ws.hub.register <- conn

	go func() {
		defer func() {
			ws.hub.unregister <- conn
			conn.Close()
		}()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (ws *WebServer) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	data := ws.generateDashboardData()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (ws *WebServer) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	data := ws.generateDashboardData()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data.RecentRuns)
}

func (ws *WebServer) handleAPIQueue(w http.ResponseWriter, r *http.Request) {
	data := ws.generateDashboardData()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data.QueueStats)
}

// generateDashboardData builds a snapshot from the most recent runs on
// record. A missing store yields an empty snapshot rather than an error
// so the dashboard stays up while storage is unavailable.
func (ws *WebServer) generateDashboardData() DashboardData {
	data := DashboardData{Timestamp: time.Now()}
	if ws.store == nil {
		return data
	}

	runs, err := ws.store.RecentRuns(recentRunLimit)
	if err != nil {
		ws.log.Warn("loading recent runs for dashboard failed", "error", err)
		return data
	}

	for _, rec := range runs {
		switch rec.Status {
		case "queued":
			data.QueueStats.QueuedCount++
		case "running":
			data.QueueStats.RunningCount++
		case "completed":
			data.QueueStats.CompletedCount++
		case "failed":
			data.QueueStats.FailedCount++
		}
		data.RecentRuns = append(data.RecentRuns, RunSummary{
			ID:        rec.ID,
			Type:      rec.RunType,
			Status:    rec.Status,
			Input:     rec.InputPath,
			Output:    rec.OutputPath,
			Error:     rec.Error,
			CreatedAt: rec.CreatedAt,
		})
	}
	return data
}

// watchResults pushes a fresh snapshot whenever a run finishes, so
// connected dashboards update without waiting for the next tick.
func (ws *WebServer) watchResults(ctx context.Context) {
	if ws.pipeline == nil {
		return
	}
	results, unsubscribe := ws.pipeline.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-results:
			if !ok {
				return
			}
			ws.pushSnapshot(ctx)
		}
	}
}

func (ws *WebServer) broadcastMetrics(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.pushSnapshot(ctx)
		}
	}
}

func (ws *WebServer) pushSnapshot(ctx context.Context) {
	data := ws.generateDashboardData()
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	select {
	case ws.hub.broadcast <- jsonData:
	case <-ctx.Done():
	}
}

func (h *WebSocketHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Debug("websocket client disconnected", "total", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}

func (ws *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tmpl := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Batchwand Dashboard</title>
    <style>
        :root {
            --bg-primary: #0f172a;
            --bg-secondary: #1e293b;
            --bg-tertiary: #334155;
            --text-primary: #f8fafc;
            --text-secondary: #cbd5e1;
            --accent: #3b82f6;
            --success: #10b981;
            --warning: #f59e0b;
            --error: #ef4444;
            --border: #475569;
        }

        * { margin: 0; padding: 0; box-sizing: border-box; }

        body {
            font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            overflow-x: hidden;
        }

        .header {
            background: var(--bg-secondary);
            padding: 1rem 2rem;
            border-bottom: 1px solid var(--border);
            display: flex;
            justify-content: space-between;
            align-items: center;
        }

        .logo {
            font-size: 1.5rem;
            font-weight: bold;
            color: var(--accent);
        }

        .dashboard {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(320px, 1fr));
            gap: 1rem;
            padding: 2rem;
        }

        .card {
            background: var(--bg-secondary);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 1.5rem;
        }

        .card-header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            margin-bottom: 1rem;
            padding-bottom: 0.5rem;
            border-bottom: 1px solid var(--border);
        }

        .card-title {
            font-size: 1.1rem;
            font-weight: 600;
        }

        .metric {
            display: flex;
            justify-content: space-between;
            padding: 0.5rem 0;
        }

        .metric-value {
            font-weight: 600;
            color: var(--accent);
        }

        .runs-grid {
            display: grid;
            gap: 0.5rem;
            max-height: 500px;
            overflow-y: auto;
        }

        .run-card {
            background: var(--bg-tertiary);
            padding: 1rem;
            border-radius: 6px;
            border-left: 4px solid var(--border);
        }

        .run-card.completed { border-left-color: var(--success); }
        .run-card.running { border-left-color: var(--warning); }
        .run-card.failed { border-left-color: var(--error); }

        .run-header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            margin-bottom: 0.5rem;
        }

        .run-type {
            font-weight: 600;
            text-transform: capitalize;
        }

        .run-status {
            padding: 0.25rem 0.5rem;
            border-radius: 4px;
            font-size: 0.8rem;
            background: var(--bg-secondary);
        }

        .run-path {
            color: var(--text-secondary);
            font-size: 0.85rem;
            overflow: hidden;
            text-overflow: ellipsis;
            white-space: nowrap;
        }

        .run-error {
            color: var(--error);
            font-size: 0.85rem;
            margin-top: 0.25rem;
        }

        .progress-bar {
            width: 100%;
            height: 6px;
            background: var(--bg-tertiary);
            border-radius: 3px;
            overflow: hidden;
            margin-top: 1rem;
        }

        .progress-fill {
            height: 100%;
            background: var(--accent);
            transition: width 0.3s ease;
        }

        .connection-status {
            position: fixed;
            top: 1rem;
            right: 1rem;
            padding: 0.5rem 1rem;
            border-radius: 4px;
            font-size: 0.9rem;
            z-index: 1000;
        }

        .connected {
            background: var(--success);
            color: white;
        }

        .disconnected {
            background: var(--error);
            color: white;
        }
    </style>
</head>
<body>
    <div class="connection-status disconnected" id="connectionStatus">Connecting...</div>

    <header class="header">
        <div class="logo">Batchwand</div>
        <span id="lastUpdate">--</span>
    </header>

    <main class="dashboard">
        <div class="card">
            <div class="card-header">
                <h3 class="card-title">Run Queue</h3>
            </div>
            <div class="metrics">
                <div class="metric">
                    <span>Queued</span>
                    <span class="metric-value" id="queueQueued">--</span>
                </div>
                <div class="metric">
                    <span>Running</span>
                    <span class="metric-value" id="queueRunning">--</span>
                </div>
                <div class="metric">
                    <span>Completed</span>
                    <span class="metric-value" id="queueCompleted">--</span>
                </div>
                <div class="metric">
                    <span>Failed</span>
                    <span class="metric-value" id="queueFailed">--</span>
                </div>
            </div>
            <div class="progress-bar">
                <div class="progress-fill" id="queueProgress" style="width: 0%"></div>
            </div>
        </div>

        <div class="card">
            <div class="card-header">
                <h3 class="card-title">Recent Runs</h3>
            </div>
            <div class="runs-grid" id="runsGrid">
                <!-- Dynamic run cards -->
            </div>
        </div>
    </main>

    <script>
        class BatchwandDashboard {
            constructor() {
                this.ws = null;
                this.reconnectAttempts = 0;
                this.maxReconnectAttempts = 5;
                this.connect();
                this.refresh();
            }

            connect() {
                const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
                const wsURL = protocol + '//' + window.location.host + '/ws';

                this.ws = new WebSocket(wsURL);

                this.ws.onopen = () => {
                    this.reconnectAttempts = 0;
                    document.getElementById('connectionStatus').textContent = 'Connected';
                    document.getElementById('connectionStatus').className = 'connection-status connected';
                };

                this.ws.onmessage = (event) => {
                    const data = JSON.parse(event.data);
                    this.updateDashboard(data);
                };

                this.ws.onclose = () => {
                    document.getElementById('connectionStatus').textContent = 'Disconnected';
                    document.getElementById('connectionStatus').className = 'connection-status disconnected';
                    this.reconnect();
                };

                this.ws.onerror = (error) => {
                    console.error('WebSocket error:', error);
                };
            }

            reconnect() {
                if (this.reconnectAttempts < this.maxReconnectAttempts) {
                    this.reconnectAttempts++;
                    setTimeout(() => this.connect(), 3000);
                } else {
                    document.getElementById('connectionStatus').textContent = 'Connection Failed';
                }
            }

            refresh() {
                fetch('/api/stats')
                    .then(resp => resp.json())
                    .then(data => this.updateDashboard(data))
                    .catch(err => console.error('Stats fetch failed:', err));
            }

            updateDashboard(data) {
                const queue = data.queueStats;
                document.getElementById('queueQueued').textContent = queue.queuedCount;
                document.getElementById('queueRunning').textContent = queue.runningCount;
                document.getElementById('queueCompleted').textContent = queue.completedCount;
                document.getElementById('queueFailed').textContent = queue.failedCount;

                const total = queue.queuedCount + queue.runningCount + queue.completedCount + queue.failedCount;
                const progress = total > 0 ? (queue.completedCount / total) * 100 : 0;
                document.getElementById('queueProgress').style.width = progress + '%';

                this.updateRuns(data.recentRuns || []);

                document.getElementById('lastUpdate').textContent = new Date(data.timestamp).toLocaleTimeString();
            }

            updateRuns(runs) {
                const container = document.getElementById('runsGrid');
                container.innerHTML = '';

                runs.forEach(run => {
                    const card = document.createElement('div');
                    card.className = 'run-card ' + run.status;

                    const header = document.createElement('div');
                    header.className = 'run-header';

                    const type = document.createElement('div');
                    type.className = 'run-type';
                    type.textContent = run.type;

                    const status = document.createElement('div');
                    status.className = 'run-status';
                    status.textContent = run.status;

                    header.appendChild(type);
                    header.appendChild(status);
                    card.appendChild(header);

                    const path = document.createElement('div');
                    path.className = 'run-path';
                    path.textContent = run.input;
                    card.appendChild(path);

                    if (run.error) {
                        const error = document.createElement('div');
                        error.className = 'run-error';
                        error.textContent = run.error;
                        card.appendChild(error);
                    }

                    container.appendChild(card);
                });
            }
        }

        new BatchwandDashboard();
    </script>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(tmpl))
}
