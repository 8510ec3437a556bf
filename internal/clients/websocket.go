package clients

import (
	"context"

	ws "pdv-haver/internal/transport/websocket"
)

const (
	TopicObligations = "obligations"
	TopicExports     = "exports"
)

// ObligationTopic is the per-obligation topic, e.g. "obligation:<id>".
func ObligationTopic(id string) string {
	return "obligation:" + id
}

type WebSocketClient struct {
	hub *ws.Hub
}

func NewWebSocketClient(hub *ws.Hub) *WebSocketClient {
	return &WebSocketClient{hub: hub}
}

// NotifyObligationSettled publishes a committed settlement on the shared
// obligations topic and on the settled obligation's own topic.
func (c *WebSocketClient) NotifyObligationSettled(ctx context.Context, obligationID string, data map[string]any) error {
	if c == nil || c.hub == nil {
		return nil
	}

	c.hub.Broadcast(TopicObligations, &ws.Message{Type: "obligation_settled", Data: data})
	c.hub.Broadcast(ObligationTopic(obligationID), &ws.Message{Type: "obligation_settled", Data: data})
	return nil
}

func (c *WebSocketClient) NotifyObligationsCreated(ctx context.Context, saleID string, ids []string) error {
	if c == nil || c.hub == nil {
		return nil
	}

	c.hub.Broadcast(TopicObligations, &ws.Message{
		Type: "obligations_created",
		Data: map[string]any{
			"saleId": saleID,
			"ids":    ids,
		},
	})
	return nil
}

func (c *WebSocketClient) NotifyExportProgress(ctx context.Context, exportID string, progress float64, stage string) error {
	if c == nil || c.hub == nil {
		return nil
	}

	data := map[string]any{
		"id":       exportID,
		"progress": progress,
	}
	if stage != "" {
		data["stage"] = stage
	}

	c.hub.Broadcast(TopicExports, &ws.Message{Type: "export_progress", Data: data})
	return nil
}

func (c *WebSocketClient) NotifyExportComplete(ctx context.Context, exportID, url, filename string) error {
	if c == nil || c.hub == nil {
		return nil
	}

	c.hub.Broadcast(TopicExports, &ws.Message{
		Type: "export_complete",
		Data: map[string]any{
			"id":       exportID,
			"url":      url,
			"filename": filename,
		},
	})
	return nil
}

func (c *WebSocketClient) NotifyExportFailed(ctx context.Context, exportID, errMsg string) error {
	if c == nil || c.hub == nil {
		return nil
	}

	c.hub.Broadcast(TopicExports, &ws.Message{
		Type: "export_failed",
		Data: map[string]any{
			"id":      exportID,
			"message": errMsg,
		},
	})
	return nil
}
