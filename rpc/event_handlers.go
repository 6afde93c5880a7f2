package rpc

import (
	"context"
	"net/http"
	"strings"
	"time"

	"polsstake/storage/eventlog"
)

func eventQuery(account string, params stakeEventsParams) eventlog.Query {
	return eventlog.Query{
		Account: account,
		Type:    strings.TrimSpace(params.Type),
		After:   params.After,
		Limit:   params.Limit,
	}
}

type stakeEventsParams struct {
	Account string `json:"account,omitempty"`
	Type    string `json:"type,omitempty"`
	After   uint64 `json:"after,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type stakeEventResult struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  string            `json:"createdAt"`
}

func (s *Server) handleStakeEvents(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	if s.journal == nil {
		return nil, newMethodError(http.StatusServiceUnavailable, codeServerError, "event journal disabled", nil)
	}
	var params stakeEventsParams
	if rpcErr := decodeParams(req, &params, true); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Limit < 0 {
		return nil, invalidParams("limit must not be negative", nil)
	}
	account := strings.TrimSpace(params.Account)
	if account != "" {
		addr, err := parseAddress(account)
		if err != nil {
			return nil, invalidParams("invalid account address", err.Error())
		}
		account = addr.Hex()
	}
	records, err := s.journal.List(ctx, eventQuery(account, params))
	if err != nil {
		return nil, newMethodError(http.StatusInternalServerError, codeServerError, "event query failed", err.Error())
	}
	out := make([]stakeEventResult, 0, len(records))
	for _, record := range records {
		evt, err := record.Event()
		if err != nil {
			return nil, newMethodError(http.StatusInternalServerError, codeServerError, "event decode failed", err.Error())
		}
		out = append(out, stakeEventResult{
			ID:         record.ID.String(),
			Sequence:   record.Sequence,
			Type:       evt.Type,
			Attributes: evt.Attributes,
			CreatedAt:  record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}
