package api

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client talks to a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon socket. The connection is established lazily on
// the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Contacts(ctx context.Context) (*ContactsResponse, error) {
	return invoke[ContactsResponse](ctx, c, "Contacts", &ContactsRequest{})
}

func (c *Client) History(ctx context.Context, chatID string, limit int) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c, "History", &HistoryRequest{ChatID: chatID, Limit: limit})
}

func (c *Client) MediaInfo(ctx context.Context, messageID string) (*MediaInfoResponse, error) {
	return invoke[MediaInfoResponse](ctx, c, "MediaInfo", &MediaInfoRequest{MessageID: messageID})
}

func (c *Client) Export(ctx context.Context, chatID, dir string) (*ExportResponse, error) {
	return invoke[ExportResponse](ctx, c, "Export", &ExportRequest{ChatID: chatID, Dir: dir})
}

func (c *Client) Send(ctx context.Context, chatID, text string) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c, "Send", &SendRequest{ChatID: chatID, Text: text})
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := invoke[LogoutResponse](ctx, c, "Logout", &LogoutRequest{})
	return err
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "Status", &StatusRequest{})
}

// Watch streams bus events to fn until ctx ends, the daemon closes the
// stream, or fn returns an error.
func (c *Client) Watch(ctx context.Context, namespace string, fn func(*WatchEvent) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod(watchMethod))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&WatchRequest{Namespace: namespace}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(WatchEvent)
		if err := stream.RecvMsg(evt); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
