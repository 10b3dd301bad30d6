// Package handlers implements the typed HTTP API endpoints.
package handlers

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/parcelpulse/appraisal-api/internal/service"
)

// Handlers aggregates all endpoint handlers for route registration.
type Handlers struct {
	Scrape  *ScrapeHandler
	Query   *QueryHandler
	Monitor *MonitorHandler
	System  *SystemHandler
}

// New creates the handler set. export may be nil when object storage is not
// configured.
func New(scrape *service.ScrapeService, query *service.QueryService, monitor *service.MonitorService,
	export *service.ExportService, system *SystemHandler) *Handlers {
	return &Handlers{
		Scrape:  NewScrapeHandler(scrape, export),
		Query:   NewQueryHandler(query),
		Monitor: NewMonitorHandler(monitor),
		System:  system,
	}
}

// Register wires every operation onto the API.
func Register(api huma.API, h *Handlers) {
	// Scraping
	huma.Register(api, huma.Operation{
		OperationID:   "createScrape",
		Method:        "POST",
		Path:          "/api/v1/scrape",
		Summary:       "Schedule a scrape job",
		Tags:          []string{"Scraping"},
		DefaultStatus: 201,
	}, h.Scrape.CreateScrape)
	huma.Get(api, "/api/v1/jobs", h.Scrape.ListJobs,
		withMeta("listJobs", "List scrape jobs", "Scraping"))
	huma.Get(api, "/api/v1/jobs/{id}", h.Scrape.GetJob,
		withMeta("getJob", "Get scrape job", "Scraping"))
	huma.Register(api, huma.Operation{
		OperationID: "exportSearchTerm",
		Method:      "POST",
		Path:        "/api/v1/export",
		Summary:     "Export a search term to object storage",
		Tags:        []string{"Scraping"},
	}, h.Scrape.Export)

	// Properties
	huma.Register(api, huma.Operation{
		OperationID: "queryProperties",
		Method:      "POST",
		Path:        "/api/v1/properties/query",
		Summary:     "Query properties in natural language",
		Tags:        []string{"Properties"},
	}, h.Query.QueryProperties)
	huma.Get(api, "/api/v1/properties/{id}", h.Query.GetProperty,
		withMeta("getProperty", "Get property", "Properties"))

	// Monitors
	huma.Register(api, huma.Operation{
		OperationID:   "createMonitor",
		Method:        "POST",
		Path:          "/api/v1/monitors",
		Summary:       "Create a monitored search",
		Tags:          []string{"Monitors"},
		DefaultStatus: 201,
	}, h.Monitor.CreateMonitor)
	huma.Get(api, "/api/v1/monitors", h.Monitor.ListMonitors,
		withMeta("listMonitors", "List monitored searches", "Monitors"))
	huma.Get(api, "/api/v1/monitors/{id}", h.Monitor.GetMonitor,
		withMeta("getMonitor", "Get monitored search", "Monitors"))
	huma.Patch(api, "/api/v1/monitors/{id}", h.Monitor.UpdateMonitor,
		withMeta("updateMonitor", "Update monitored search", "Monitors"))
	huma.Delete(api, "/api/v1/monitors/{id}", h.Monitor.DeleteMonitor,
		withMeta("deleteMonitor", "Delete monitored search", "Monitors"))

	// System
	huma.Get(api, "/api/v1/health", h.System.Health,
		withMeta("health", "Service health", "System"))
	huma.Get(api, "/api/v1/token/health", h.System.TokenHealth,
		withMeta("tokenHealth", "Upstream token health", "System"))
	huma.Get(api, "/api/v1/queue/stats", h.System.QueueStats,
		withMeta("queueStats", "Queue depth by state", "System"))
}

// RegisterProbes wires the liveness and readiness endpoints. They are
// registered separately so the router can keep them outside API auth.
func RegisterProbes(api huma.API, system *SystemHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "livez", Method: "GET", Path: "/healthz", Hidden: true,
	}, system.Health)
	huma.Register(api, huma.Operation{
		OperationID: "readyz", Method: "GET", Path: "/readyz", Hidden: true,
	}, system.Readyz)
}

func withMeta(operationID, summary string, tags ...string) func(o *huma.Operation) {
	return func(o *huma.Operation) {
		o.OperationID = operationID
		o.Summary = summary
		o.Tags = tags
	}
}
