package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const maxBodyBytes = 1 << 20

// NewGatewayMux serves LotteryService as HTTP/JSON on a grpc-gateway mux.
// Handlers call the service in-process and map errors through the same
// status codes the gRPC surface uses.
func NewGatewayMux(svc *LotteryService) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"POST", "/v1/lottery/{op}", svc.handleCommand},
		{"GET", "/v1/lottery", svc.handleGetLottery},
		{"GET", "/v1/tickets", svc.handleListTickets},
		{"GET", "/v1/tickets/{sequence_id}", svc.handleGetTicket},
		{"GET", "/v1/balances/{party}", svc.handleGetBalance},
		{"GET", "/v1/balances/{party}/journals", svc.handleJournalHistory},
		{"GET", "/v1/holders/{holder}/history", svc.handleTicketHistory},
		{"GET", "/v1/admin/integrity", svc.handleVerifyIntegrity},
		{"GET", "/v1/admin/eventlog", svc.handleEventLogInfo},
		{"POST", "/v1/admin/snapshot", svc.handleTakeSnapshot},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

func (s *LotteryService) handleCommand(w http.ResponseWriter, r *http.Request, params map[string]string) {
	op := params["op"]
	if !isCommandOp(op) {
		writeError(w, invalidArgument(fmt.Sprintf("unknown operation %q", op)))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, invalidArgument("read body: "+err.Error()))
		return
	}
	receipt, err := s.commands.Execute(r.Context(), "http", op, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *LotteryService) handleGetLottery(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	respond(w)(s.GetLottery(r.Context(), &Empty{}))
}

func (s *LotteryService) handleListTickets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	req := &ListTicketsRequest{Holder: q.Get("holder")}
	var err error
	if req.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, invalidArgument("limit: "+err.Error()))
		return
	}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, invalidArgument("after: "+err.Error()))
			return
		}
		req.After = &after
	}
	respond(w)(s.ListTickets(r.Context(), req))
}

func (s *LotteryService) handleGetTicket(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := strconv.ParseUint(params["sequence_id"], 10, 64)
	if err != nil {
		writeError(w, invalidArgument("sequence_id: "+err.Error()))
		return
	}
	respond(w)(s.GetTicket(r.Context(), &GetTicketRequest{SequenceID: id}))
}

func (s *LotteryService) handleGetBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	respond(w)(s.GetBalance(r.Context(), &GetBalanceRequest{Party: params["party"]}))
}

func (s *LotteryService) handleJournalHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()
	req := &JournalHistoryRequest{Party: params["party"]}
	var err error
	if req.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, invalidArgument("limit: "+err.Error()))
		return
	}
	if v := q.Get("before"); v != "" {
		before, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, invalidArgument("before: "+err.Error()))
			return
		}
		req.BeforeSequence = &before
	}
	respond(w)(s.GetJournalHistory(r.Context(), req))
}

func (s *LotteryService) handleTicketHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, invalidArgument("limit: "+err.Error()))
		return
	}
	respond(w)(s.GetTicketHistory(r.Context(), &TicketHistoryRequest{Holder: params["holder"], Limit: limit}))
}

func (s *LotteryService) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	respond(w)(s.VerifyIntegrity(r.Context(), &Empty{}))
}

func (s *LotteryService) handleEventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	respond(w)(s.GetEventLogInfo(r.Context(), &Empty{}))
}

func (s *LotteryService) handleTakeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	respond(w)(s.TakeSnapshot(r.Context(), &Empty{}))
}

// respond writes either the result or the error of a service call.
func respond(w http.ResponseWriter) func(interface{}, error) {
	return func(v interface{}, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func isCommandOp(op string) bool {
	for _, c := range CommandOps {
		if c == op {
			return true
		}
	}
	return false
}
