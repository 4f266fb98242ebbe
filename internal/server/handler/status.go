package handler

import (
	"net/http"
)

// MarketStatus describes the market being traded.
type MarketStatus struct {
	Slug     string `json:"slug"`
	Question string `json:"question"`
	EndDate  string `json:"end_date"`
}

// Status is the body of GET /api/status.
type Status struct {
	Mode      string        `json:"mode"`
	Coin      string        `json:"coin"`
	Session   string        `json:"session"`
	Connected bool          `json:"connected"`
	Uptime    string        `json:"uptime"`
	Market    *MarketStatus `json:"market,omitempty"`
	Line      string        `json:"status_line"`
	Engine    any           `json:"engine"`
}

// StatusSource produces the current status on demand.
type StatusSource interface {
	Status() Status
}

type StatusHandler struct {
	src StatusSource
}

func NewStatusHandler(src StatusSource) *StatusHandler {
	return &StatusHandler{src: src}
}

// GetStatus reports mode, market, connection and engine counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Status())
}
