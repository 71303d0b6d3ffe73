package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// LogClient accepts every request and only logs it. It stands in for the
// real gateway in local runs.
type LogClient struct {
	logger *zap.Logger
	seq    atomic.Int64
}

var _ Client = (*LogClient)(nil)

func NewLogClient(logger *zap.Logger) *LogClient {
	return &LogClient{logger: logger}
}

func (l *LogClient) id(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), l.seq.Add(1))
}

func (l *LogClient) SendTemplate(_ context.Context, to, templateName, languageCode string, components []Component) (string, error) {
	id := l.id("wamid.log")
	l.logger.Info("Simulated template send",
		zap.String("to", to),
		zap.String("template", templateName),
		zap.String("language", languageCode),
		zap.Int("components", len(components)),
		zap.String("external_id", id))
	return id, nil
}

func (l *LogClient) UploadMedia(_ context.Context, data []byte, mimeType string) (string, error) {
	id := l.id("media.log")
	l.logger.Info("Simulated media upload", zap.String("mime_type", mimeType), zap.Int("bytes", len(data)), zap.String("media_id", id))
	return id, nil
}

func (l *LogClient) SendText(_ context.Context, to, body string) (string, error) {
	id := l.id("wamid.log")
	l.logger.Info("Simulated text send", zap.String("to", to), zap.Int("length", len(body)), zap.String("external_id", id))
	return id, nil
}
