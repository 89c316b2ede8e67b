package xsoverlay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"notifybridge/internal/config"
	"notifybridge/internal/transport"
)

const (
	target  = "xsoverlay"
	command = "SendNotification"
	// notificationType 1 is the overlay's default toast style.
	notificationType = 1
)

type notification struct {
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	SourceApp string  `json:"sourceApp"`
	Type      int     `json:"type"`
	Timeout   float64 `json:"timeout"`
	Opacity   float64 `json:"opacity"`
}

// message is the websocket envelope. JSONData is the notification encoded as a string.
type message struct {
	Sender   string `json:"sender"`
	Target   string `json:"target"`
	Command  string `json:"command"`
	JSONData string `json:"jsonData"`
}

// BuildMessage encodes req as an overlay SendNotification message.
func BuildMessage(req transport.Request) ([]byte, error) {
	inner, err := marshal(notification{
		Title:     req.Title,
		Content:   req.Content,
		SourceApp: config.AppName,
		Type:      notificationType,
		Timeout:   req.TimeoutSeconds,
		Opacity:   req.Opacity,
	})
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	out, err := marshal(message{
		Sender:   config.AppName,
		Target:   target,
		Command:  command,
		JSONData: string(inner),
	})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

// marshal encodes without HTML escaping so message text reaches the overlay verbatim.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EnsureClientParam appends client=<AppName> unless the URL already names a client.
func EnsureClientParam(wsURL string) string {
	if strings.Contains(wsURL, "?client=") || strings.Contains(wsURL, "&client=") {
		return wsURL
	}
	joiner := "?"
	if strings.Contains(wsURL, "?") {
		joiner = "&"
	}
	return wsURL + joiner + "client=" + config.AppName
}
