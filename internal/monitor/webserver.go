package monitor

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/spacecal/internal/httputil"
	"github.com/banshee-data/spacecal/internal/monitoring"
)

// WebServer handles the HTTP interface for monitoring calibration
// status. It provides endpoints for health checks, the live status
// snapshot and the deviation/residual charts.
type WebServer struct {
	address string
	state   *State
	server  *http.Server
}

// NewWebServer creates a web server publishing the given state.
func NewWebServer(address string, state *State) *WebServer {
	ws := &WebServer{
		address: address,
		state:   state,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

func (ws *WebServer) setupRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/charts/deviation", ws.handleDeviationChart)
	mux.HandleFunc("/plots/residuals.png", ws.handleResidualPlot)
	return mux
}

// Start begins the HTTP server in a goroutine and blocks until ctx is
// cancelled, then shuts the server down.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("Monitor listening on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("Monitor server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		return ws.server.Close()
	}
	return nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, ws.state.Snapshot())
}

// handleDeviationChart renders the deviation history as an echarts line
// chart (HTML page).
func (ws *WebServer) handleDeviationChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	series, firstTick := ws.state.deviationSeries()
	xs := make([]string, len(series))
	ys := make([]opts.LineData, len(series))
	for i, v := range series {
		xs[i] = fmt.Sprintf("%d", firstTick+i)
		ys[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Calibration Deviation", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Per-tick deviation", Subtitle: "metres between corrected and target pose"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deviation (m)"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick"}),
	)
	line.SetXAxis(xs)
	line.AddSeries("deviation", ys)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// handleResidualPlot renders the sample residuals as a top-down (X/Z)
// scatter PNG.
func (ws *WebServer) handleResidualPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	points := ws.state.residualPoints()
	if len(points) == 0 {
		httputil.NotFound(w, "no residuals recorded yet")
		return
	}

	pts := make(plotter.XYs, len(points))
	for i, p := range points {
		pts[i] = plotter.XY{X: p.X, Y: p.Z}
	}

	p := plot.New()
	p.Title.Text = "Sample residuals (top-down)"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		httputil.InternalServerError(w, "failed to build scatter")
		return
	}
	scatter.Radius = vg.Points(2)
	p.Add(scatter)
	p.Add(plotter.NewGrid())

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, "failed to render plot")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	wt.WriteTo(w)
}
