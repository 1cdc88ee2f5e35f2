package websocket

import (
	"context"

	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/pkg/domain"
	"github.com/HMasataka/partyline/pkg/errors"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// Dial connects to a relay endpoint and returns a started client. Text
// frames received from the relay are passed to handler.
func Dial(ctx context.Context, url string, logger *logging.Logger, options ClientOptions, handler domain.MessageHandler) (*Client, error) {
	logger.Info("connecting to relay", "url", url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "DIAL_ERROR", "failed to connect to relay")
	}

	client := NewClient(xid.New().String(), conn, logger, options)
	_ = client.Receive(handler)
	client.Start()

	return client, nil
}
