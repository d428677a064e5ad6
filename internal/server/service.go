package server

import (
	"context"
	"encoding/json"
	"strings"

	"TokenLottery/internal/ingestion"
	"TokenLottery/internal/projection"
	"TokenLottery/internal/query"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tokenlottery.v1.LotteryService"

// Commands executes lifecycle operations.
type Commands interface {
	Execute(ctx context.Context, source, op string, data []byte) (*ingestion.Receipt, error)
}

// Queries reads the projections.
type Queries interface {
	GetLottery(ctx context.Context) (*query.LotteryView, error)
	GetTicket(ctx context.Context, sequenceID uint64) (*query.TicketView, error)
	ListTickets(ctx context.Context, holder string, limit int, after *uint64) ([]query.TicketView, error)
	GetBalance(ctx context.Context, owner string) (*query.BalanceView, error)
	GetJournalHistory(ctx context.Context, owner string, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// EventLog reports the head of the persisted log.
type EventLog interface {
	GetLatestSequence(ctx context.Context) (int64, error)
}

// HistorySource answers ticket custody history.
type HistorySource interface {
	QueryByHolder(holder string, limit int) []projection.OwnershipChange
}

// Snapshotter takes a snapshot on request.
type Snapshotter interface {
	Trigger()
}

// --- request/response messages ---

type Empty struct{}

type GetTicketRequest struct {
	SequenceID uint64 `json:"sequence_id"`
}

type ListTicketsRequest struct {
	Holder string  `json:"holder,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	After  *uint64 `json:"after,omitempty"`
}

type ListTicketsResponse struct {
	Tickets []query.TicketView `json:"tickets"`
}

type GetBalanceRequest struct {
	Party string `json:"party"`
}

type JournalHistoryRequest struct {
	Party          string `json:"party"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type JournalHistoryResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

type TicketHistoryRequest struct {
	Holder string `json:"holder"`
	Limit  int    `json:"limit,omitempty"`
}

type TicketHistoryResponse struct {
	Changes []projection.OwnershipChange `json:"changes"`
}

type EventLogInfo struct {
	LastSequence int64 `json:"last_sequence"`
}

type SnapshotResponse struct {
	Requested bool `json:"requested"`
}

// LotteryService implements tokenlottery.v1.LotteryService on top of the
// command and query services.
type LotteryService struct {
	commands  Commands
	queries   Queries
	history   HistorySource
	eventLog  EventLog
	snapshots Snapshotter
}

func NewLotteryService(commands Commands, queries Queries, history HistorySource, eventLog EventLog, snapshots Snapshotter) *LotteryService {
	return &LotteryService{
		commands:  commands,
		queries:   queries,
		history:   history,
		eventLog:  eventLog,
		snapshots: snapshots,
	}
}

// Command runs op with a raw JSON request body.
func (s *LotteryService) Command(ctx context.Context, op string, body json.RawMessage) (*ingestion.Receipt, error) {
	return s.commands.Execute(ctx, "grpc", op, body)
}

func (s *LotteryService) GetLottery(ctx context.Context, _ *Empty) (*query.LotteryView, error) {
	return s.queries.GetLottery(ctx)
}

func (s *LotteryService) GetTicket(ctx context.Context, req *GetTicketRequest) (*query.TicketView, error) {
	return s.queries.GetTicket(ctx, req.SequenceID)
}

func (s *LotteryService) ListTickets(ctx context.Context, req *ListTicketsRequest) (*ListTicketsResponse, error) {
	tickets, err := s.queries.ListTickets(ctx, req.Holder, req.Limit, req.After)
	if err != nil {
		return nil, err
	}
	return &ListTicketsResponse{Tickets: tickets}, nil
}

func (s *LotteryService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceView, error) {
	if req.Party == "" {
		return nil, invalidArgument("party is required")
	}
	return s.queries.GetBalance(ctx, req.Party)
}

func (s *LotteryService) GetJournalHistory(ctx context.Context, req *JournalHistoryRequest) (*JournalHistoryResponse, error) {
	if req.Party == "" {
		return nil, invalidArgument("party is required")
	}
	entries, err := s.queries.GetJournalHistory(ctx, req.Party, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, err
	}
	return &JournalHistoryResponse{Entries: entries}, nil
}

func (s *LotteryService) GetTicketHistory(_ context.Context, req *TicketHistoryRequest) (*TicketHistoryResponse, error) {
	if req.Holder == "" {
		return nil, invalidArgument("holder is required")
	}
	if s.history == nil {
		return &TicketHistoryResponse{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = query.DefaultLimit
	}
	return &TicketHistoryResponse{Changes: s.history.QueryByHolder(req.Holder, limit)}, nil
}

func (s *LotteryService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	return s.queries.VerifyIntegrity(ctx)
}

func (s *LotteryService) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfo, error) {
	seq, err := s.eventLog.GetLatestSequence(ctx)
	if err != nil {
		return nil, err
	}
	return &EventLogInfo{LastSequence: seq}, nil
}

func (s *LotteryService) TakeSnapshot(_ context.Context, _ *Empty) (*SnapshotResponse, error) {
	if s.snapshots == nil {
		return &SnapshotResponse{}, nil
	}
	s.snapshots.Trigger()
	return &SnapshotResponse{Requested: true}, nil
}

// --- service descriptor ---

// CommandOps are the operations exposed as RPCs and gateway routes. The
// oracle feed is accepted over NATS only.
var CommandOps = append(append([]string{}, ingestion.CommandOps...), ingestion.OpDeposit, ingestion.OpWithdraw)

// MethodName converts an operation name to its RPC method: buy_ticket ->
// BuyTicket.
func MethodName(op string) string {
	parts := strings.Split(op, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}

// FullMethod returns /tokenlottery.v1.LotteryService/<method>.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func commandMethod(op string) grpc.MethodDesc {
	name := MethodName(op)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(json.RawMessage)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req interface{}) (interface{}, error) {
				out, err := srv.(*LotteryService).Command(ctx, op, *req.(*json.RawMessage))
				if err != nil {
					return nil, grpcError(ctx, err)
				}
				return out, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, call)
		},
	}
}

func unaryMethod[Req any, Resp any](name string, fn func(*LotteryService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req interface{}) (interface{}, error) {
				out, err := fn(srv.(*LotteryService), ctx, req.(*Req))
				if err != nil {
					return nil, grpcError(ctx, err)
				}
				return out, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, call)
		},
	}
}

// ServiceDesc describes LotteryService for grpc.Server.RegisterService.
var ServiceDesc = func() grpc.ServiceDesc {
	methods := []grpc.MethodDesc{
		unaryMethod("GetLottery", (*LotteryService).GetLottery),
		unaryMethod("GetTicket", (*LotteryService).GetTicket),
		unaryMethod("ListTickets", (*LotteryService).ListTickets),
		unaryMethod("GetBalance", (*LotteryService).GetBalance),
		unaryMethod("GetJournalHistory", (*LotteryService).GetJournalHistory),
		unaryMethod("GetTicketHistory", (*LotteryService).GetTicketHistory),
		unaryMethod("VerifyIntegrity", (*LotteryService).VerifyIntegrity),
		unaryMethod("GetEventLogInfo", (*LotteryService).GetEventLogInfo),
		unaryMethod("TakeSnapshot", (*LotteryService).TakeSnapshot),
	}
	for _, op := range CommandOps {
		methods = append(methods, commandMethod(op))
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*interface{})(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "tokenlottery/v1/lottery.proto",
	}
}()
