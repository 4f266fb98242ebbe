package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// multipartThreshold switches large session logs to the upload manager.
const multipartThreshold = 8 * 1024 * 1024

// archivedTrade is the JSONL record written for each trade.
type archivedTrade struct {
	Session     string    `json:"session"`
	MarketSlug  string    `json:"market_slug"`
	UpAsk       float64   `json:"up_ask"`
	DownAsk     float64   `json:"down_ask"`
	AskSum      float64   `json:"ask_sum"`
	Spread      float64   `json:"spread"`
	Size        float64   `json:"size"`
	UpPrice     float64   `json:"up_price"`
	DownPrice   float64   `json:"down_price"`
	UpOrderOK   bool      `json:"up_order_ok"`
	DownOrderOK bool      `json:"down_order_ok"`
	UpOrderID   string    `json:"up_order_id,omitempty"`
	DownOrderID string    `json:"down_order_id,omitempty"`
	Status      string    `json:"status"`
	Profit      float64   `json:"profit"`
	Timestamp   time.Time `json:"timestamp"`
}

// Archiver implements domain.SessionArchiver by writing the session trade
// log as JSONL to archive/sessions/YYYY-MM-DD/{session}.jsonl.
type Archiver struct {
	writer domain.BlobWriter
	logger *slog.Logger
	now    func() time.Time
}

func NewArchiver(writer domain.BlobWriter, logger *slog.Logger) *Archiver {
	return &Archiver{writer: writer, logger: logger, now: time.Now}
}

// ArchiveSession uploads trades and returns the object path. An empty trade
// list uploads nothing and returns an empty path.
func (a *Archiver) ArchiveSession(ctx context.Context, sessionID string, trades []domain.ArbTrade) (string, error) {
	if len(trades) == 0 {
		return "", nil
	}

	records := make([]archivedTrade, len(trades))
	for i, t := range trades {
		records[i] = archivedTrade{
			Session:     sessionID,
			MarketSlug:  t.MarketSlug,
			UpAsk:       t.UpAsk,
			DownAsk:     t.DownAsk,
			AskSum:      t.AskSum,
			Spread:      t.Spread,
			Size:        t.Size,
			UpPrice:     t.UpPrice,
			DownPrice:   t.DownPrice,
			UpOrderOK:   t.UpOrderOK,
			DownOrderOK: t.DownOrderOK,
			UpOrderID:   t.UpOrderID,
			DownOrderID: t.DownOrderID,
			Status:      t.Status(),
			Profit:      t.ProfitPerPair(),
			Timestamp:   t.Timestamp,
		}
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal session %s: %w", sessionID, err)
	}

	path := sessionPath(sessionID, a.now())
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive session %s: %w", sessionID, err)
	}

	a.logger.Info("session archived", slog.String("path", path), slog.Int("trades", len(trades)))
	return path, nil
}

func sessionPath(sessionID string, at time.Time) string {
	return fmt.Sprintf("archive/sessions/%s/%s.jsonl", at.UTC().Format("2006-01-02"), sessionID)
}

// marshalJSONL encodes one JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.SessionArchiver = (*Archiver)(nil)
