package server

import (
	"context"
	"fmt"

	"TokenLottery/internal/ingestion"
	"TokenLottery/internal/query"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client calls LotteryService over gRPC with the JSON codec.
type Client struct {
	conn *grpc.ClientConn
}

func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection. Calls must use the JSON codec.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error { return c.conn.Close() }

// Conn exposes the underlying connection, e.g. for health checks.
func (c *Client) Conn() *grpc.ClientConn { return c.conn }

// Command runs op with req marshalled as its JSON body. On failure the
// returned code is the lifecycle error code from the response trailer, if
// any.
func (c *Client) Command(ctx context.Context, op string, req interface{}) (*ingestion.Receipt, string, error) {
	var trailer metadata.MD
	out := new(ingestion.Receipt)
	err := c.conn.Invoke(ctx, FullMethod(MethodName(op)), req, out, grpc.Trailer(&trailer))
	if err != nil {
		code := ""
		if v := trailer.Get(ErrorCodeKey); len(v) > 0 {
			code = v[0]
		}
		return nil, code, err
	}
	return out, "", nil
}

func (c *Client) GetLottery(ctx context.Context) (*query.LotteryView, error) {
	out := new(query.LotteryView)
	return out, c.conn.Invoke(ctx, FullMethod("GetLottery"), &Empty{}, out)
}

func (c *Client) GetTicket(ctx context.Context, sequenceID uint64) (*query.TicketView, error) {
	out := new(query.TicketView)
	return out, c.conn.Invoke(ctx, FullMethod("GetTicket"), &GetTicketRequest{SequenceID: sequenceID}, out)
}

func (c *Client) ListTickets(ctx context.Context, req *ListTicketsRequest) (*ListTicketsResponse, error) {
	out := new(ListTicketsResponse)
	return out, c.conn.Invoke(ctx, FullMethod("ListTickets"), req, out)
}

func (c *Client) GetBalance(ctx context.Context, party string) (*query.BalanceView, error) {
	out := new(query.BalanceView)
	return out, c.conn.Invoke(ctx, FullMethod("GetBalance"), &GetBalanceRequest{Party: party}, out)
}

func (c *Client) GetJournalHistory(ctx context.Context, req *JournalHistoryRequest) (*JournalHistoryResponse, error) {
	out := new(JournalHistoryResponse)
	return out, c.conn.Invoke(ctx, FullMethod("GetJournalHistory"), req, out)
}

func (c *Client) GetTicketHistory(ctx context.Context, req *TicketHistoryRequest) (*TicketHistoryResponse, error) {
	out := new(TicketHistoryResponse)
	return out, c.conn.Invoke(ctx, FullMethod("GetTicketHistory"), req, out)
}

func (c *Client) VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error) {
	out := new(query.IntegrityReport)
	return out, c.conn.Invoke(ctx, FullMethod("VerifyIntegrity"), &Empty{}, out)
}

func (c *Client) GetEventLogInfo(ctx context.Context) (*EventLogInfo, error) {
	out := new(EventLogInfo)
	return out, c.conn.Invoke(ctx, FullMethod("GetEventLogInfo"), &Empty{}, out)
}

func (c *Client) TakeSnapshot(ctx context.Context) (*SnapshotResponse, error) {
	out := new(SnapshotResponse)
	return out, c.conn.Invoke(ctx, FullMethod("TakeSnapshot"), &Empty{}, out)
}
